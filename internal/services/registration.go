package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventpayments/internal/domain"
)

type registrationService struct {
	events        domain.EventRepository
	registrations domain.RegistrationRepository
	payments      domain.PaymentRepository
	activity      domain.ActivityLogRepository
	logger        *slog.Logger
}

// NewRegistrationService creates a RegistrationService with the given repositories.
func NewRegistrationService(
	events domain.EventRepository,
	registrations domain.RegistrationRepository,
	payments domain.PaymentRepository,
	activity domain.ActivityLogRepository,
	logger *slog.Logger,
) domain.RegistrationService {
	return &registrationService{
		events:        events,
		registrations: registrations,
		payments:      payments,
		activity:      activity,
		logger:        logger,
	}
}

func (s *registrationService) getEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

func (s *registrationService) getRegistration(ctx context.Context, registrationID string) (*domain.Registration, error) {
	reg, err := s.registrations.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

func (s *registrationService) Submit(ctx context.Context, eventID, userID string, formData map[string]any) (*domain.RegistrationWithPayment, error) {
	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if _, err := s.registrations.GetByEventAndUser(ctx, eventID, userID); err == nil {
		return nil, domain.ErrAlreadyRegistered
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get registration: %w", err)
	}

	now := time.Now().UTC()
	reg := domain.NewRegistration(event, userID, formData, now)
	if err := s.registrations.Create(ctx, reg); err != nil {
		if errors.Is(err, domain.ErrAlreadyRegistered) {
			return nil, domain.ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("create registration: %w", err)
	}

	out := &domain.RegistrationWithPayment{Registration: reg}
	if event.IsFree() {
		return out, nil
	}
	payment := domain.NewPayment(reg.ID, event.FeeAmount, event.Currency, now)
	if err := s.payments.Create(ctx, payment); err != nil {
		// The registration stays; EnsurePendingPayment creates the missing payment on retry.
		s.logger.ErrorContext(ctx, "registration saved without a pending payment",
			"registration_id", reg.ID, "event_id", eventID, "err", err)
		return nil, fmt.Errorf("create payment: %w", err)
	}
	out.Payment = payment
	s.logger.InfoContext(ctx, "registration submitted", "registration_id", reg.ID, "payment_id", payment.ID, "amount", payment.Amount)
	return out, nil
}

func (s *registrationService) EnsurePendingPayment(ctx context.Context, registrationID, userID string) (*domain.Payment, error) {
	reg, err := s.getRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID != userID {
		return nil, domain.ErrNotFound
	}
	if reg.PaymentStatus == domain.PaymentCompleted {
		return nil, fmt.Errorf("%w: registration is already paid", domain.ErrInvalidState)
	}
	event, err := s.getEvent(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if event.IsFree() {
		return nil, fmt.Errorf("%w: event has no fee", domain.ErrInvalidState)
	}

	pending, err := s.payments.FindPendingForRegistration(ctx, reg.ID)
	if err == nil {
		return pending, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find pending payment: %w", err)
	}
	payment := domain.NewPayment(reg.ID, event.FeeAmount, event.Currency, time.Now().UTC())
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return payment, nil
}

func (s *registrationService) Get(ctx context.Context, registrationID, userID string) (*domain.RegistrationWithPayment, error) {
	reg, err := s.getRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.UserID != userID {
		return nil, domain.ErrNotFound
	}
	out := &domain.RegistrationWithPayment{Registration: reg}
	payment, err := s.payments.LatestForRegistration(ctx, reg.ID)
	switch {
	case err == nil:
		out.Payment = payment
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, fmt.Errorf("get latest payment: %w", err)
	}
	return out, nil
}

func (s *registrationService) ListForEvent(ctx context.Context, eventID, actorID string, params domain.PaginationParams) ([]*domain.Registration, int, error) {
	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, 0, err
	}
	if event.OwnerID != actorID {
		return nil, 0, domain.ErrForbidden
	}
	regs, total, err := s.registrations.ListByEventID(ctx, eventID, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}
	return regs, total, nil
}

func (s *registrationService) Review(ctx context.Context, registrationID, actorID string, decision domain.RegistrationStatus) (*domain.Registration, error) {
	var action string
	switch decision {
	case domain.RegistrationAccepted:
		action = domain.ActionApprove
	case domain.RegistrationRejected:
		action = domain.ActionReject
	default:
		return nil, fmt.Errorf("%w: status must be accepted or rejected", domain.ErrValidation)
	}

	reg, err := s.getRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	event, err := s.getEvent(ctx, reg.EventID)
	if err != nil {
		return nil, err
	}
	if event.OwnerID != actorID {
		return nil, domain.ErrForbidden
	}

	updated, err := s.registrations.UpdateStatus(ctx, reg.ID, decision)
	if err != nil {
		return nil, fmt.Errorf("update registration status: %w", err)
	}

	entry := &domain.ActivityLog{
		ActorID:    actorID,
		Action:     action,
		TargetType: domain.TargetRegistration,
		TargetID:   reg.ID,
		Details: map[string]any{
			"event_id":        reg.EventID,
			"previous_status": string(reg.Status),
			"status":          string(decision),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.activity.Create(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to write activity log", "registration_id", reg.ID, "err", err)
	}
	return updated, nil
}
