package domain

import (
	"context"
	"time"
)

// Completion sources.
const (
	SourceCheckout = "checkout"
	SourceWebhook  = "webhook"
)

// PaymentCompletedEvent is emitted once per real completion of a payment.
type PaymentCompletedEvent struct {
	PaymentID        string    `json:"payment_id"`
	RegistrationID   string    `json:"registration_id"`
	EventID          string    `json:"event_id"`
	UserID           string    `json:"user_id"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	Source           string    `json:"source"`
	CompletedAt      time.Time `json:"completed_at"`
}

// PaymentNotifier delivers completion events downstream (email, broker).
type PaymentNotifier interface {
	PaymentCompleted(ctx context.Context, evt PaymentCompletedEvent) error
}
