package domain

import (
	"context"
	"time"
)

// MinOrderAmount is the smallest order the gateway accepts, in minor units.
const MinOrderAmount int64 = 100

// PaymentStatus is shared by payment rows and a registration's payment_status.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Failure reasons recorded on payment rows.
const (
	FailureReasonSuperseded = "superseded"
	FailureReasonCheckout   = "checkout_failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentCompleted, PaymentFailed},
	// A gateway order can still be paid after a failed attempt on it.
	PaymentFailed: {PaymentCompleted},
}

// CanTransitionTo reports whether moving from s to next is allowed. Completed is terminal.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment represents one attempt to pay for one registration. Amount is in minor units
// and never changes after creation.
// swagger:model Payment
type Payment struct {
	ID               string        `json:"id"`
	RegistrationID   string        `json:"registration_id"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	GatewayOrderID   *string       `json:"gateway_order_id"`
	GatewayPaymentID *string       `json:"gateway_payment_id"`
	GatewaySignature *string       `json:"-"`
	Status           PaymentStatus `json:"status"`
	FailureReason    *string       `json:"failure_reason,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	VerifiedAt       *time.Time    `json:"verified_at"`
}

// NewPayment returns a pending payment for the registration. ID is set by the repository on create.
func NewPayment(registrationID string, amount int64, currency string, now time.Time) *Payment {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Payment{
		RegistrationID: registrationID,
		Amount:         amount,
		Currency:       currency,
		Status:         PaymentPending,
		CreatedAt:      now,
	}
}

// HasOrder reports whether a gateway order id is attached.
func (p *Payment) HasOrder() bool {
	return p.GatewayOrderID != nil && *p.GatewayOrderID != ""
}

// PaymentRepository is the payment record store. Every write is a single conditional
// statement keyed by primary key or gateway order id.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	// FindPendingForRegistration returns the newest pending payment, or ErrNotFound.
	FindPendingForRegistration(ctx context.Context, registrationID string) (*Payment, error)
	// LatestForRegistration returns the newest payment of any status, or ErrNotFound.
	LatestForRegistration(ctx context.Context, registrationID string) (*Payment, error)
	FindByGatewayOrderID(ctx context.Context, orderID string) (*Payment, error)
	// AttachGatewayOrder sets the order id only when none is set; otherwise ErrOrderAlreadyAttached.
	AttachGatewayOrder(ctx context.Context, paymentID, orderID string) error
	// MarkCompleted applies only when the payment is not already completed. signature may be nil
	// (webhook path) in which case a stored signature is kept.
	MarkCompleted(ctx context.Context, paymentID, gatewayPaymentID string, signature *string, verifiedAt time.Time) (changed bool, err error)
	// MarkFailed applies only to pending payments.
	MarkFailed(ctx context.Context, paymentID, reason string) (changed bool, err error)
	// SupersedePending fails every other pending payment of the registration.
	SupersedePending(ctx context.Context, registrationID, keepPaymentID string) (int64, error)
}

// GatewayOrderRequest is what the order issuer sends to the gateway.
type GatewayOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the gateway's view of a created order.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// OrderIssuer creates orders on the payment gateway. Calls are not idempotent at the gateway.
type OrderIssuer interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error)
}

// CreateOrderInput is the client's request to open checkout for a registration.
// UserID, when set, must own the registration.
type CreateOrderInput struct {
	RegistrationID string
	Amount         int64
	Currency       string
	UserID         string
}

// OrderResult is returned to the browser to open the gateway checkout.
type OrderResult struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
}

// VerifyInput carries the signed payload the gateway handed to the browser after checkout.
type VerifyInput struct {
	RegistrationID   string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	UserID           string
}

// VerifyResult reports the outcome of a client verification.
type VerifyResult struct {
	Success         bool `json:"success"`
	AlreadyVerified bool `json:"already_verified"`
}

// CheckoutFailureInput is the browser's report that the gateway checkout failed.
type CheckoutFailureInput struct {
	RegistrationID string
	GatewayOrderID string
	Reason         string
	UserID         string
}

// PaymentService reconciles payment state across the browser callback and the gateway webhook.
type PaymentService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*OrderResult, error)
	VerifyPayment(ctx context.Context, in VerifyInput) (*VerifyResult, error)
	// HandleWebhook returns an error only when the delivery must be rejected (bad signature,
	// missing secret, unparsable body). Anything after verification is acknowledged.
	HandleWebhook(ctx context.Context, rawBody []byte, signature, eventID string) error
	ReportCheckoutFailure(ctx context.Context, in CheckoutFailureInput) error
}
