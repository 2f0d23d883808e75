package services

import (
	"context"
	"fmt"

	"eventpayments/internal/domain"
)

type emailNotifier struct {
	users  domain.UserRepository
	events domain.EventRepository
	email  domain.EmailService
}

// NewEmailNotifier returns a PaymentNotifier that emails the registrant a receipt.
// It is used directly or as the handler behind the AMQP consumer.
func NewEmailNotifier(users domain.UserRepository, events domain.EventRepository, email domain.EmailService) domain.PaymentNotifier {
	return &emailNotifier{users: users, events: events, email: email}
}

func (n *emailNotifier) PaymentCompleted(ctx context.Context, evt domain.PaymentCompletedEvent) error {
	user, err := n.users.GetByID(ctx, evt.UserID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	event, err := n.events.GetByID(ctx, evt.EventID)
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}
	return n.email.SendPaymentConfirmation(ctx, &domain.PaymentConfirmationEmailData{
		Email:          user.Email,
		FullName:       user.FullName,
		EventTitle:     event.Title,
		AmountDisplay:  FormatAmount(evt.Amount, evt.Currency),
		GatewayOrderID: evt.GatewayOrderID,
		PaymentID:      evt.GatewayPaymentID,
		RegistrationID: evt.RegistrationID,
	})
}

// FormatAmount renders minor units as "INR 500.00".
func FormatAmount(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, amount/100, amount%100)
}
