package controllers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"eventpayments/internal/delivery/http/helpers"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthController struct {
	Logger *slog.Logger
	DB     Pinger
	// PaymentsConfigured reports whether gateway secrets are present.
	PaymentsConfigured bool
}

// HealthResponse is the data payload for GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Payments string `json:"payments"`
}

// Health godoc
// @Summary Liveness and dependency check
// @Tags health
// @Produce json
// @Success 200 {object} helpers.APIResponse
// @Failure 503 {object} helpers.APIResponse
// @Router /healthz [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok", Payments: "configured"}
	if !c.PaymentsConfigured {
		resp.Payments = "unconfigured"
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := c.DB.PingContext(ctx); err != nil {
		c.Logger.ErrorContext(r.Context(), "database ping failed", "err", err)
		resp.Status, resp.Database = "degraded", "unavailable"
		helpers.WriteJSONSuccess(w, http.StatusServiceUnavailable, resp)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, resp)
}
