package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"eventpayments/internal/domain"
)

type activityLogRepository struct {
	DB *sql.DB
}

func NewActivityLogRepository(db *sql.DB) domain.ActivityLogRepository {
	return &activityLogRepository{DB: db}
}

func (r *activityLogRepository) Create(ctx context.Context, entry *domain.ActivityLog) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode activity details: %w", err)
	}
	query := `
		INSERT INTO activity_logs (actor_id, action, target_type, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query,
		entry.ActorID, entry.Action, entry.TargetType, entry.TargetID, raw, entry.CreatedAt,
	).Scan(&entry.ID)
}
