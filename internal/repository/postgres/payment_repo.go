package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"eventpayments/internal/domain"
)

const paymentColumns = `id, registration_id, amount, currency, gateway_order_id, gateway_payment_id,
	gateway_signature, status, failure_reason, created_at, verified_at`

type paymentRepository struct {
	DB *sql.DB
}

func NewPaymentRepository(db *sql.DB) domain.PaymentRepository {
	return &paymentRepository{
		DB: db,
	}
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	p := &domain.Payment{}
	var orderID, paymentID, signature, failureReason sql.NullString
	var verifiedAt sql.NullTime
	err := row.Scan(&p.ID, &p.RegistrationID, &p.Amount, &p.Currency, &orderID, &paymentID,
		&signature, &p.Status, &failureReason, &p.CreatedAt, &verifiedAt)
	if err != nil {
		return nil, err
	}
	p.GatewayOrderID = stringPtr(orderID)
	p.GatewayPaymentID = stringPtr(paymentID)
	p.GatewaySignature = stringPtr(signature)
	p.FailureReason = stringPtr(failureReason)
	if verifiedAt.Valid {
		p.VerifiedAt = &verifiedAt.Time
	}
	return p, nil
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (r *paymentRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Payment, error) {
	p, err := scanPayment(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *paymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (registration_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, p.RegistrationID, p.Amount, p.Currency, p.Status, p.CreatedAt).Scan(&p.ID)
}

func (r *paymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *paymentRepository) FindPendingForRegistration(ctx context.Context, registrationID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE registration_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, registrationID)
}

func (r *paymentRepository) LatestForRegistration(ctx context.Context, registrationID string) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE registration_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, registrationID)
}

func (r *paymentRepository) FindByGatewayOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1`, orderID)
}

func (r *paymentRepository) AttachGatewayOrder(ctx context.Context, paymentID, orderID string) error {
	query := `UPDATE payments SET gateway_order_id = $2 WHERE id = $1 AND gateway_order_id IS NULL`
	changed, err := execChanged(ctx, r.DB, query, paymentID, orderID)
	if err != nil {
		var perr *pq.Error
		if errors.As(err, &perr) && perr.Code == "23505" {
			return domain.ErrOrderAlreadyAttached
		}
		return err
	}
	if changed {
		return nil
	}
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, paymentID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrOrderAlreadyAttached
}

func (r *paymentRepository) MarkCompleted(ctx context.Context, paymentID, gatewayPaymentID string, signature *string, verifiedAt time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'completed',
			gateway_payment_id = $2,
			gateway_signature = COALESCE($3, gateway_signature),
			verified_at = $4,
			failure_reason = NULL
		WHERE id = $1 AND status <> 'completed'
	`
	return execChanged(ctx, r.DB, query, paymentID, gatewayPaymentID, nullString(signature), verifiedAt)
}

func (r *paymentRepository) MarkFailed(ctx context.Context, paymentID, reason string) (bool, error) {
	query := `
		UPDATE payments SET status = 'failed', failure_reason = $2
		WHERE id = $1 AND status = 'pending'
	`
	return execChanged(ctx, r.DB, query, paymentID, reason)
}

func (r *paymentRepository) SupersedePending(ctx context.Context, registrationID, keepPaymentID string) (int64, error) {
	query := `
		UPDATE payments SET status = 'failed', failure_reason = $3
		WHERE registration_id = $1 AND id <> $2 AND status = 'pending'
	`
	result, err := r.DB.ExecContext(ctx, query, registrationID, keepPaymentID, domain.FailureReasonSuperseded)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
