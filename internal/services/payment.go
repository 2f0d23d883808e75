package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"eventpayments/internal/adapters/signature"
	"eventpayments/internal/domain"
)

const maxFailureReasonLen = 200

// PaymentConfig holds the gateway credentials the coordinator needs at request time.
// Empty values surface as domain.ErrConfiguration on the call that needs them.
type PaymentConfig struct {
	KeyID          string
	CheckoutSecret string
	WebhookSecret  string
}

type paymentService struct {
	cfg           PaymentConfig
	payments      domain.PaymentRepository
	registrations domain.RegistrationRepository
	webhookEvents domain.WebhookEventRepository
	issuer        domain.OrderIssuer
	notifier      domain.PaymentNotifier
	logger        *slog.Logger
	now           func() time.Time
}

// NewPaymentService returns the coordinator for order creation, checkout verification,
// gateway webhooks and checkout failure reports. notifier may be nil.
func NewPaymentService(
	cfg PaymentConfig,
	payments domain.PaymentRepository,
	registrations domain.RegistrationRepository,
	webhookEvents domain.WebhookEventRepository,
	issuer domain.OrderIssuer,
	notifier domain.PaymentNotifier,
	logger *slog.Logger,
) domain.PaymentService {
	return &paymentService{
		cfg:           cfg,
		payments:      payments,
		registrations: registrations,
		webhookEvents: webhookEvents,
		issuer:        issuer,
		notifier:      notifier,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ownedRegistration loads the registration and hides it from anyone but its owner.
func (s *paymentService) ownedRegistration(ctx context.Context, registrationID, userID string) (*domain.Registration, error) {
	reg, err := s.registrations.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	if userID != "" && reg.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return reg, nil
}

func (s *paymentService) CreateOrder(ctx context.Context, in domain.CreateOrderInput) (*domain.OrderResult, error) {
	if strings.TrimSpace(in.RegistrationID) == "" {
		return nil, fmt.Errorf("%w: registration_id is required", domain.ErrValidation)
	}
	reg, err := s.ownedRegistration(ctx, in.RegistrationID, in.UserID)
	if err != nil {
		return nil, err
	}
	payment, err := s.payments.FindPendingForRegistration(ctx, reg.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no pending payment for this registration", domain.ErrInvalidState)
		}
		return nil, fmt.Errorf("find pending payment: %w", err)
	}
	if in.Amount < domain.MinOrderAmount {
		return nil, fmt.Errorf("%w: amount must be at least %d", domain.ErrValidation, domain.MinOrderAmount)
	}
	// The charge is always the stored payment amount; the client value only has to agree with it.
	if in.Amount != payment.Amount {
		s.logger.WarnContext(ctx, "order amount does not match payment",
			"registration_id", reg.ID, "payment_id", payment.ID, "claimed", in.Amount, "expected", payment.Amount)
		return nil, fmt.Errorf("%w: amount does not match the registration fee", domain.ErrValidation)
	}
	if in.Currency != "" && !strings.EqualFold(in.Currency, payment.Currency) {
		return nil, fmt.Errorf("%w: currency does not match the registration fee", domain.ErrValidation)
	}
	if s.cfg.KeyID == "" {
		return nil, fmt.Errorf("%w: gateway key id missing", domain.ErrConfiguration)
	}

	if payment.HasOrder() {
		return s.orderResult(payment, *payment.GatewayOrderID), nil
	}

	order, err := s.issuer.CreateOrder(ctx, domain.GatewayOrderRequest{
		Amount:   payment.Amount,
		Currency: payment.Currency,
		Receipt:  "reg_" + reg.ID,
		Notes: map[string]string{
			"registration_id": reg.ID,
			"payment_id":      payment.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	if err := s.payments.AttachGatewayOrder(ctx, payment.ID, order.ID); err != nil {
		if !errors.Is(err, domain.ErrOrderAlreadyAttached) {
			return nil, fmt.Errorf("attach gateway order: %w", err)
		}
		// A concurrent request attached its order first; hand out that one.
		winner, gerr := s.payments.GetByID(ctx, payment.ID)
		if gerr != nil || !winner.HasOrder() {
			return nil, fmt.Errorf("attach gateway order: %w", err)
		}
		s.logger.WarnContext(ctx, "discarding duplicate gateway order",
			"payment_id", payment.ID, "gateway_order_id", order.ID, "kept_order_id", *winner.GatewayOrderID)
		return s.orderResult(winner, *winner.GatewayOrderID), nil
	}

	s.logger.InfoContext(ctx, "gateway order created",
		"registration_id", reg.ID, "payment_id", payment.ID, "gateway_order_id", order.ID, "amount", payment.Amount)
	return s.orderResult(payment, order.ID), nil
}

func (s *paymentService) orderResult(p *domain.Payment, orderID string) *domain.OrderResult {
	return &domain.OrderResult{
		OrderID:  orderID,
		Amount:   p.Amount,
		Currency: p.Currency,
		KeyID:    s.cfg.KeyID,
	}
}

func (s *paymentService) VerifyPayment(ctx context.Context, in domain.VerifyInput) (*domain.VerifyResult, error) {
	var missing []string
	if in.RegistrationID == "" {
		missing = append(missing, "registration_id")
	}
	if in.GatewayOrderID == "" {
		missing = append(missing, "gateway_order_id")
	}
	if in.GatewayPaymentID == "" {
		missing = append(missing, "gateway_payment_id")
	}
	if in.Signature == "" {
		missing = append(missing, "signature")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if s.cfg.CheckoutSecret == "" {
		return nil, fmt.Errorf("%w: checkout secret missing", domain.ErrConfiguration)
	}

	msg := signature.CheckoutMessage(in.GatewayOrderID, in.GatewayPaymentID)
	if !signature.Verify(msg, in.Signature, []byte(s.cfg.CheckoutSecret)) {
		s.logger.WarnContext(ctx, "checkout signature mismatch",
			"registration_id", in.RegistrationID, "gateway_order_id", in.GatewayOrderID)
		return &domain.VerifyResult{Success: false}, domain.ErrSignatureMismatch
	}

	payment, err := s.payments.FindByGatewayOrderID(ctx, in.GatewayOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find payment by order: %w", err)
	}
	if payment.RegistrationID != in.RegistrationID {
		return nil, domain.ErrNotFound
	}
	if _, err := s.ownedRegistration(ctx, payment.RegistrationID, in.UserID); err != nil {
		return nil, err
	}

	if payment.Status == domain.PaymentCompleted {
		return &domain.VerifyResult{Success: true, AlreadyVerified: true}, nil
	}

	sig := in.Signature
	changed, err := s.payments.MarkCompleted(ctx, payment.ID, in.GatewayPaymentID, &sig, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark payment completed: %w", err)
	}
	if !changed {
		// The webhook got there between the read and the update.
		return &domain.VerifyResult{Success: true, AlreadyVerified: true}, nil
	}
	s.completed(ctx, payment, in.GatewayPaymentID, domain.SourceCheckout)
	return &domain.VerifyResult{Success: true}, nil
}

func (s *paymentService) HandleWebhook(ctx context.Context, rawBody []byte, sig, eventID string) error {
	if s.cfg.WebhookSecret == "" {
		return fmt.Errorf("%w: webhook secret missing", domain.ErrConfiguration)
	}
	if sig == "" || !signature.Verify(rawBody, sig, []byte(s.cfg.WebhookSecret)) {
		s.logger.WarnContext(ctx, "webhook signature rejected", "event_id", eventID)
		return domain.ErrSignatureMismatch
	}

	var evt domain.WebhookEvent
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return fmt.Errorf("%w: unparsable webhook body", domain.ErrValidation)
	}
	log := s.logger.With("event_type", evt.Event, "event_id", eventID)

	if eventID != "" && s.webhookEvents != nil {
		firstSeen, err := s.webhookEvents.Record(ctx, eventID, evt.Event)
		if err != nil {
			log.ErrorContext(ctx, "failed to record webhook event", "err", err)
		} else if !firstSeen {
			log.InfoContext(ctx, "ignoring redelivered webhook event")
			return nil
		}
	}

	if !evt.Handled() {
		log.DebugContext(ctx, "ignoring webhook event type")
		return nil
	}
	entity := evt.PaymentEntity()
	if entity.OrderID == "" || entity.ID == "" {
		log.WarnContext(ctx, "webhook event without order or payment id")
		return nil
	}
	log = log.With("gateway_order_id", entity.OrderID, "gateway_payment_id", entity.ID)

	payment, err := s.payments.FindByGatewayOrderID(ctx, entity.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.InfoContext(ctx, "webhook for unknown order")
		} else {
			log.ErrorContext(ctx, "failed to load payment for webhook", "err", err)
		}
		return nil
	}
	if payment.Status == domain.PaymentCompleted {
		return nil
	}
	if entity.Amount != 0 && entity.Amount != payment.Amount {
		log.WarnContext(ctx, "webhook amount differs from payment", "payment_id", payment.ID,
			"amount", entity.Amount, "expected", payment.Amount)
	}

	changed, err := s.payments.MarkCompleted(ctx, payment.ID, entity.ID, nil, s.now())
	if err != nil {
		log.ErrorContext(ctx, "failed to complete payment from webhook", "payment_id", payment.ID, "err", err)
		return nil
	}
	if changed {
		s.completed(ctx, payment, entity.ID, domain.SourceWebhook)
	}
	return nil
}

// completed runs the follow-ups of a real pending/failed to completed transition. It is
// reached at most once per payment because MarkCompleted only reports a change once.
// Failures here are logged; the payment itself is already recorded as paid.
func (s *paymentService) completed(ctx context.Context, p *domain.Payment, gatewayPaymentID, source string) {
	log := s.logger.With("payment_id", p.ID, "registration_id", p.RegistrationID, "source", source)
	log.InfoContext(ctx, "payment completed")

	if _, err := s.registrations.MarkPaid(ctx, p.RegistrationID); err != nil {
		log.ErrorContext(ctx, "failed to mark registration paid", "err", err)
	}
	if n, err := s.payments.SupersedePending(ctx, p.RegistrationID, p.ID); err != nil {
		log.ErrorContext(ctx, "failed to supersede sibling payments", "err", err)
	} else if n > 0 {
		log.InfoContext(ctx, "superseded sibling payments", "count", n)
	}

	if s.notifier == nil {
		return
	}
	reg, err := s.registrations.GetByID(ctx, p.RegistrationID)
	if err != nil {
		log.ErrorContext(ctx, "failed to load registration for notification", "err", err)
		return
	}
	orderID := ""
	if p.GatewayOrderID != nil {
		orderID = *p.GatewayOrderID
	}
	evt := domain.PaymentCompletedEvent{
		PaymentID:        p.ID,
		RegistrationID:   p.RegistrationID,
		EventID:          reg.EventID,
		UserID:           reg.UserID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		GatewayOrderID:   orderID,
		GatewayPaymentID: gatewayPaymentID,
		Source:           source,
		CompletedAt:      s.now(),
	}
	if err := s.notifier.PaymentCompleted(ctx, evt); err != nil {
		log.ErrorContext(ctx, "failed to notify payment completion", "err", err)
	}
}

func (s *paymentService) ReportCheckoutFailure(ctx context.Context, in domain.CheckoutFailureInput) error {
	if strings.TrimSpace(in.RegistrationID) == "" {
		return fmt.Errorf("%w: registration_id is required", domain.ErrValidation)
	}
	reg, err := s.ownedRegistration(ctx, in.RegistrationID, in.UserID)
	if err != nil {
		return err
	}

	var payment *domain.Payment
	if in.GatewayOrderID != "" {
		payment, err = s.payments.FindByGatewayOrderID(ctx, in.GatewayOrderID)
		if err == nil && payment.RegistrationID != reg.ID {
			return domain.ErrNotFound
		}
	} else {
		payment, err = s.payments.FindPendingForRegistration(ctx, reg.ID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: no pending payment for this registration", domain.ErrInvalidState)
		}
		return fmt.Errorf("find payment: %w", err)
	}
	if !payment.Status.CanTransitionTo(domain.PaymentFailed) {
		return fmt.Errorf("%w: payment is %s", domain.ErrInvalidState, payment.Status)
	}

	reason := domain.FailureReasonCheckout
	if r := strings.TrimSpace(in.Reason); r != "" {
		reason += ": " + truncateUTF8(r, maxFailureReasonLen)
	}
	changed, err := s.payments.MarkFailed(ctx, payment.ID, reason)
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	if !changed {
		return nil
	}
	if _, err := s.registrations.MarkPaymentFailed(ctx, reg.ID); err != nil {
		return fmt.Errorf("mark registration payment failed: %w", err)
	}
	s.logger.InfoContext(ctx, "checkout failure recorded", "registration_id", reg.ID, "payment_id", payment.ID)
	return nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
