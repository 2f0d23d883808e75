package domain

import (
	"context"
	"time"
)

// Activity actions recorded for staff decisions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"

	TargetRegistration = "registration"
)

// ActivityLog records a staff action against a target row.
type ActivityLog struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ActivityLogRepository stores staff activity.
type ActivityLogRepository interface {
	Create(ctx context.Context, entry *ActivityLog) error
}
