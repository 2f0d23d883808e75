package domain

import (
	"context"
	"time"
)

// RegistrationStatus is the staff review state of a registration.
type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "pending"
	RegistrationAccepted RegistrationStatus = "accepted"
	RegistrationRejected RegistrationStatus = "rejected"
)

// Valid reports whether s is a known review state.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationPending, RegistrationAccepted, RegistrationRejected:
		return true
	}
	return false
}

// Registration represents one user's intent to attend one event.
// swagger:model Registration
type Registration struct {
	ID            string             `json:"id"`
	EventID       string             `json:"event_id"`
	UserID        string             `json:"user_id"`
	FormData      map[string]any     `json:"form_data"`
	Status        RegistrationStatus `json:"status"`
	PaymentStatus PaymentStatus      `json:"payment_status"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NewRegistration returns a pending registration for the event. Free events start with
// payment_status completed; paid events start pending. ID is set by the repository on create.
func NewRegistration(event *Event, userID string, formData map[string]any, now time.Time) *Registration {
	paymentStatus := PaymentPending
	if event.IsFree() {
		paymentStatus = PaymentCompleted
	}
	if formData == nil {
		formData = map[string]any{}
	}
	return &Registration{
		EventID:       event.ID,
		UserID:        userID,
		FormData:      formData,
		Status:        RegistrationPending,
		PaymentStatus: paymentStatus,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RegistrationRepository defines storage operations for registrations.
// MarkPaid and MarkPaymentFailed are conditional single-row updates; changed is false
// when the row was already in a state the transition does not apply to.
type RegistrationRepository interface {
	Create(ctx context.Context, reg *Registration) error
	GetByID(ctx context.Context, id string) (*Registration, error)
	GetByEventAndUser(ctx context.Context, eventID, userID string) (*Registration, error)
	ListByEventID(ctx context.Context, eventID string, params PaginationParams) ([]*Registration, int, error)
	UpdateStatus(ctx context.Context, id string, status RegistrationStatus) (*Registration, error)
	MarkPaid(ctx context.Context, id string) (changed bool, err error)
	MarkPaymentFailed(ctx context.Context, id string) (changed bool, err error)
}

// RegistrationWithPayment bundles a registration with its most recent payment, if any.
type RegistrationWithPayment struct {
	Registration *Registration `json:"registration"`
	Payment      *Payment      `json:"payment"`
}

// RegistrationService covers registrant submission and staff review.
type RegistrationService interface {
	// Submit registers the user for the event and, for paid events, creates the pending payment.
	Submit(ctx context.Context, eventID, userID string, formData map[string]any) (*RegistrationWithPayment, error)
	// EnsurePendingPayment returns the registration's pending payment, creating one at the event fee if none exists.
	EnsurePendingPayment(ctx context.Context, registrationID, userID string) (*Payment, error)
	Get(ctx context.Context, registrationID, userID string) (*RegistrationWithPayment, error)
	ListForEvent(ctx context.Context, eventID, actorID string, params PaginationParams) ([]*Registration, int, error)
	Review(ctx context.Context, registrationID, actorID string, decision RegistrationStatus) (*Registration, error)
}
