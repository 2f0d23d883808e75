// Package razorpay issues orders against the Razorpay REST API.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"eventpayments/internal/domain"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://api.razorpay.com"

const (
	defaultTimeout   = 5 * time.Second
	maxResponseBytes = 64 << 10
)

// Config holds the server-side API credentials. KeySecret never leaves the server.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

type orderClient struct {
	client *http.Client
	cfg    Config
}

// NewOrderIssuer returns an OrderIssuer that calls the Razorpay orders API. Each call is
// bounded by cfg.Timeout (5s when unset).
func NewOrderIssuer(cfg Config, client *http.Client) domain.OrderIssuer {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &orderClient{client: client, cfg: cfg}
}

type createOrderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type errorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *orderClient) CreateOrder(ctx context.Context, in domain.GatewayOrderRequest) (*domain.GatewayOrder, error) {
	if c.cfg.KeyID == "" || c.cfg.KeySecret == "" {
		return nil, fmt.Errorf("razorpay key id/secret missing: %w", domain.ErrConfiguration)
	}
	if in.Amount < domain.MinOrderAmount {
		return nil, fmt.Errorf("%w: amount %d is below the minimum of %d", domain.ErrValidation, in.Amount, domain.MinOrderAmount)
	}
	currency := in.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	payload, err := json.Marshal(createOrderBody{
		Amount:   in.Amount,
		Currency: currency,
		Receipt:  in.Receipt,
		Notes:    in.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrGatewayAuth, resp.StatusCode, describe(body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrGateway, resp.StatusCode, describe(body))
	}

	var order domain.GatewayOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: failed to decode order: %v", domain.ErrGateway, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: order response without id", domain.ErrGateway)
	}
	return &order, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
}

func describe(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Description != "" {
		return eb.Error.Code + ": " + eb.Error.Description
	}
	return strings.TrimSpace(string(body))
}
