package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"eventpayments/internal/domain"
)

const registrationColumns = `id, event_id, user_id, form_data, status, payment_status, created_at, updated_at`

type registrationRepository struct {
	DB *sql.DB
}

func NewRegistrationRepository(db *sql.DB) domain.RegistrationRepository {
	return &registrationRepository{
		DB: db,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*domain.Registration, error) {
	reg := &domain.Registration{}
	var formData []byte
	if err := row.Scan(&reg.ID, &reg.EventID, &reg.UserID, &formData, &reg.Status, &reg.PaymentStatus, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
		return nil, err
	}
	reg.FormData = map[string]any{}
	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &reg.FormData); err != nil {
			return nil, fmt.Errorf("decode form_data: %w", err)
		}
	}
	return reg, nil
}

func (r *registrationRepository) Create(ctx context.Context, reg *domain.Registration) error {
	formData, err := json.Marshal(reg.FormData)
	if err != nil {
		return fmt.Errorf("encode form_data: %w", err)
	}
	query := `
		INSERT INTO registrations (event_id, user_id, form_data, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = r.DB.QueryRowContext(ctx, query,
		reg.EventID, reg.UserID, formData, reg.Status, reg.PaymentStatus, reg.CreatedAt, reg.UpdatedAt,
	).Scan(&reg.ID)
	if err != nil {
		var perr *pq.Error
		if errors.As(err, &perr) && perr.Code == "23505" {
			return domain.ErrAlreadyRegistered
		}
		return err
	}
	return nil
}

func (r *registrationRepository) GetByID(ctx context.Context, id string) (*domain.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1`
	reg, err := scanRegistration(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return reg, nil
}

func (r *registrationRepository) GetByEventAndUser(ctx context.Context, eventID, userID string) (*domain.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = $1 AND user_id = $2`
	reg, err := scanRegistration(r.DB.QueryRowContext(ctx, query, eventID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return reg, nil
}

func (r *registrationRepository) ListByEventID(ctx context.Context, eventID string, params domain.PaginationParams) ([]*domain.Registration, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations WHERE event_id = $1`, eventID).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `
		SELECT ` + registrationColumns + `
		FROM registrations
		WHERE event_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.DB.QueryContext(ctx, query, eventID, params.Limit(), params.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	regs := make([]*domain.Registration, 0)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, 0, err
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return regs, total, nil
}

func (r *registrationRepository) UpdateStatus(ctx context.Context, id string, status domain.RegistrationStatus) (*domain.Registration, error) {
	query := `
		UPDATE registrations SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + registrationColumns
	reg, err := scanRegistration(r.DB.QueryRowContext(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return reg, nil
}

func (r *registrationRepository) MarkPaid(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE registrations SET payment_status = 'completed', updated_at = NOW()
		WHERE id = $1 AND payment_status <> 'completed'
	`
	return execChanged(ctx, r.DB, query, id)
}

func (r *registrationRepository) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE registrations SET payment_status = 'failed', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`
	return execChanged(ctx, r.DB, query, id)
}

// execChanged runs a conditional update and reports whether any row matched.
func execChanged(ctx context.Context, db *sql.DB, query string, args ...any) (bool, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
