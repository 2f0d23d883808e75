package domain

import "errors"

// Sentinel errors shared by the payment and registration services. Adapters and
// repositories wrap them with fmt.Errorf("...: %w") so callers can use errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrConfiguration        = errors.New("payment system not configured")
	ErrGatewayAuth          = errors.New("payment gateway rejected credentials")
	ErrNetwork              = errors.New("payment gateway unreachable")
	ErrTimeout              = errors.New("payment gateway timed out")
	ErrGateway              = errors.New("payment gateway error")
	ErrSignatureMismatch    = errors.New("signature mismatch")
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrForbidden            = errors.New("forbidden")
	ErrAlreadyRegistered    = errors.New("already registered for this event")
	ErrOrderAlreadyAttached = errors.New("gateway order already attached")
)
