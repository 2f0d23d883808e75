package domain

import (
	"context"
	"encoding/json"
)

// Gateway webhook event types the reconciler acts on.
const (
	WebhookPaymentCaptured   = "payment.captured"
	WebhookPaymentAuthorized = "payment.authorized"
)

// WebhookEvent is the part of a gateway webhook body the reconciler reads.
type WebhookEvent struct {
	Event   string         `json:"event"`
	Payload WebhookPayload `json:"payload"`
}

// WebhookPayload wraps the payment entity.
type WebhookPayload struct {
	Payment WebhookPaymentRef `json:"payment"`
}

// WebhookPaymentRef is payload.payment. The gateway nests the payment under "entity";
// some senders put the payment fields directly on payload.payment, where "entity" is
// then the object type name rather than an object.
type WebhookPaymentRef struct {
	Entity json.RawMessage `json:"entity"`
	WebhookPaymentEntity
}

// WebhookPaymentEntity is the gateway payment object.
type WebhookPaymentEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

// PaymentEntity returns payload.payment.entity, or payload.payment itself when no
// nested entity object is present.
func (e *WebhookEvent) PaymentEntity() WebhookPaymentEntity {
	ref := e.Payload.Payment
	if len(ref.Entity) > 0 && ref.Entity[0] == '{' {
		var nested WebhookPaymentEntity
		if err := json.Unmarshal(ref.Entity, &nested); err == nil {
			return nested
		}
	}
	return ref.WebhookPaymentEntity
}

// Handled reports whether the event type drives a completion.
func (e *WebhookEvent) Handled() bool {
	return e.Event == WebhookPaymentCaptured || e.Event == WebhookPaymentAuthorized
}

// WebhookEventRepository remembers gateway event ids already processed.
type WebhookEventRepository interface {
	// Record stores the event id; firstSeen is false when it was already recorded.
	Record(ctx context.Context, eventID, eventType string) (firstSeen bool, err error)
}
