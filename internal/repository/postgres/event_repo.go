package postgres

import (
	"context"
	"database/sql"
	"errors"

	"eventpayments/internal/domain"
)

type eventRepository struct {
	DB *sql.DB
}

func NewEventRepository(db *sql.DB) domain.EventRepository {
	return &eventRepository{
		DB: db,
	}
}

func (r *eventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	query := `
		SELECT id, title, fee_amount, currency, owner_id, created_at, updated_at
		FROM events
		WHERE id = $1
	`
	e := &domain.Event{}
	var currency sql.NullString
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.Title, &e.FeeAmount, &currency, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	e.Currency = currency.String
	if e.Currency == "" {
		e.Currency = domain.DefaultCurrency
	}
	return e, nil
}
