package services

import (
	"context"
	"fmt"
	"log/slog"

	"eventpayments/internal/domain"
)

type emailService struct {
	mailer   domain.Mailer
	renderer domain.EmailTemplateRenderer
	logger   *slog.Logger
}

// NewEmailService returns an EmailService that uses the given Mailer and template renderer.
func NewEmailService(mailer domain.Mailer, renderer domain.EmailTemplateRenderer, logger *slog.Logger) domain.EmailService {
	return &emailService{mailer: mailer, renderer: renderer, logger: logger}
}

// SendPaymentConfirmation sends the receipt email using the "payment_confirmed" template.
func (s *emailService) SendPaymentConfirmation(ctx context.Context, data *domain.PaymentConfirmationEmailData) error {
	if data == nil {
		return fmt.Errorf("payment confirmation data is nil")
	}
	if data.Email == "" {
		return fmt.Errorf("payment confirmation recipient is empty")
	}
	subject, htmlBody, textBody, err := s.renderer.Render("payment_confirmed", data)
	if err != nil {
		return fmt.Errorf("failed to render payment_confirmed template: %w", err)
	}
	if err := s.mailer.Send(ctx, data.Email, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("failed to send payment confirmation: %w", err)
	}
	s.logger.InfoContext(ctx, "payment confirmation sent", "registration_id", data.RegistrationID, "payment_id", data.PaymentID)
	return nil
}
