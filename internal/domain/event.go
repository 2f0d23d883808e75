package domain

import (
	"context"
	"time"
)

// DefaultCurrency is used when an event or request does not name one.
const DefaultCurrency = "INR"

// Event is the subset of an organizer's event that registration and payment need.
// FeeAmount is in minor currency units (paise for INR); zero means the event is free.
// swagger:model Event
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	FeeAmount int64     `json:"fee_amount"`
	Currency  string    `json:"currency"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFree reports whether registering for the event requires no payment.
func (e *Event) IsFree() bool {
	return e.FeeAmount <= 0
}

// EventRepository defines read access to events. Event CRUD lives elsewhere.
type EventRepository interface {
	GetByID(ctx context.Context, id string) (*Event, error)
}
