package postgres

import (
	"context"
	"database/sql"

	"eventpayments/internal/domain"
)

type webhookEventRepository struct {
	DB *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) domain.WebhookEventRepository {
	return &webhookEventRepository{DB: db}
}

func (r *webhookEventRepository) Record(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
		INSERT INTO webhook_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`
	return execChanged(ctx, r.DB, query, eventID, eventType)
}
