package controllers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"eventpayments/internal/delivery/http/helpers"
	"eventpayments/internal/domain"
)

// Gateway webhook headers.
const (
	HeaderWebhookSignature = "X-Razorpay-Signature"
	HeaderWebhookEventID   = "X-Razorpay-Event-Id"
)

// MaxWebhookBodyBytes bounds the raw webhook body.
const MaxWebhookBodyBytes = 1 << 20

type PaymentController struct {
	Logger  *slog.Logger
	Service domain.PaymentService
	Debug   bool
}

func NewPaymentController(logger *slog.Logger, svc domain.PaymentService, debug bool) *PaymentController {
	return &PaymentController{
		Logger:  logger,
		Service: svc,
		Debug:   debug,
	}
}

// CreateOrderRequest is the request body for POST /payments/orders.
type CreateOrderRequest struct {
	RegistrationID string `json:"registration_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// Validate implements helpers.Validator.
func (r *CreateOrderRequest) Validate() []string {
	var errs []string
	r.RegistrationID = strings.TrimSpace(r.RegistrationID)
	if r.RegistrationID == "" {
		errs = append(errs, "registration_id is required")
	} else if !validUUID(r.RegistrationID) {
		errs = append(errs, "registration_id must be a UUID")
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency != "" && len(r.Currency) != 3 {
		errs = append(errs, "currency must be a 3-letter code")
	}
	return errs
}

// CreateOrderSuccessResponse is the success response envelope for POST /payments/orders (200).
type CreateOrderSuccessResponse struct {
	Data  *domain.OrderResult `json:"data"`
	Error *helpers.APIError   `json:"error"`
}

// CreateOrder godoc
// @Summary Create a gateway order for a registration
// @Description Opens checkout for the registration's pending payment. The amount must equal the registration fee and be at least 100 minor units. Repeated calls return the order already attached.
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body controllers.CreateOrderRequest true "Order request"
// @Success 200 {object} controllers.CreateOrderSuccessResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 409 {object} helpers.APIResponse "error.code: conflict"
// @Failure 502 {object} helpers.APIResponse "error.code: gateway_error"
// @Failure 503 {object} helpers.APIResponse "error.code: payment_unavailable"
// @Failure 504 {object} helpers.APIResponse "error.code: gateway_timeout"
// @Router /payments/orders [post]
func (c *PaymentController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CreateOrderRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := c.Service.CreateOrder(r.Context(), domain.CreateOrderInput{
		RegistrationID: req.RegistrationID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		UserID:         userID,
	})
	if err != nil {
		writeServiceError(w, r, c.Logger, c.Debug, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, res)
}

// VerifyPaymentRequest is the request body for POST /payments/verify, as handed to the browser by the gateway checkout.
type VerifyPaymentRequest struct {
	RegistrationID   string `json:"registration_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

// Validate implements helpers.Validator.
func (r *VerifyPaymentRequest) Validate() []string {
	var errs []string
	if strings.TrimSpace(r.RegistrationID) == "" {
		errs = append(errs, "registration_id is required")
	} else if !validUUID(r.RegistrationID) {
		errs = append(errs, "registration_id must be a UUID")
	}
	if strings.TrimSpace(r.GatewayOrderID) == "" {
		errs = append(errs, "gateway_order_id is required")
	}
	if strings.TrimSpace(r.GatewayPaymentID) == "" {
		errs = append(errs, "gateway_payment_id is required")
	}
	if strings.TrimSpace(r.Signature) == "" {
		errs = append(errs, "signature is required")
	}
	return errs
}

// VerifyPaymentSuccessResponse is the success response envelope for POST /payments/verify (200).
type VerifyPaymentSuccessResponse struct {
	Data  *domain.VerifyResult `json:"data"`
	Error *helpers.APIError    `json:"error"`
}

// VerifyPayment godoc
// @Summary Verify a completed checkout
// @Description Checks the checkout signature and marks the payment completed. Replays return already_verified=true.
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body controllers.VerifyPaymentRequest true "Checkout result"
// @Success 200 {object} controllers.VerifyPaymentSuccessResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request or signature_mismatch"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 503 {object} helpers.APIResponse "error.code: payment_unavailable"
// @Router /payments/verify [post]
func (c *PaymentController) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req VerifyPaymentRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := c.Service.VerifyPayment(r.Context(), domain.VerifyInput{
		RegistrationID:   strings.TrimSpace(req.RegistrationID),
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
		UserID:           userID,
	})
	if err != nil {
		writeServiceError(w, r, c.Logger, c.Debug, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, res)
}

// CheckoutFailureRequest is the request body for POST /payments/failures.
type CheckoutFailureRequest struct {
	RegistrationID string `json:"registration_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Reason         string `json:"reason"`
}

// Validate implements helpers.Validator.
func (r *CheckoutFailureRequest) Validate() []string {
	if strings.TrimSpace(r.RegistrationID) == "" {
		return []string{"registration_id is required"}
	}
	if !validUUID(r.RegistrationID) {
		return []string{"registration_id must be a UUID"}
	}
	return nil
}

// CheckoutFailureResponse is the data payload for POST /payments/failures (200).
type CheckoutFailureResponse struct {
	Recorded bool `json:"recorded"`
}

// ReportCheckoutFailure godoc
// @Summary Report a failed checkout
// @Description Marks the pending payment and the registration payment status failed. Completed payments are never changed.
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body controllers.CheckoutFailureRequest true "Failure report"
// @Success 200 {object} helpers.APIResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 409 {object} helpers.APIResponse "error.code: conflict"
// @Router /payments/failures [post]
func (c *PaymentController) ReportCheckoutFailure(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CheckoutFailureRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}
	err := c.Service.ReportCheckoutFailure(r.Context(), domain.CheckoutFailureInput{
		RegistrationID: strings.TrimSpace(req.RegistrationID),
		GatewayOrderID: strings.TrimSpace(req.GatewayOrderID),
		Reason:         req.Reason,
		UserID:         userID,
	})
	if err != nil {
		writeServiceError(w, r, c.Logger, c.Debug, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, CheckoutFailureResponse{Recorded: true})
}

// WebhookResponse is the data payload for POST /payments/webhook (200).
type WebhookResponse struct {
	Received bool `json:"received"`
}

// Webhook godoc
// @Summary Receive a gateway webhook
// @Description Verifies the signature over the raw body. Any signed event is acknowledged with 200, including ignored types; only signature, secret or body problems return 400.
// @Tags payments
// @Accept json
// @Produce json
// @Param X-Razorpay-Signature header string true "HMAC-SHA256 of the raw body"
// @Param X-Razorpay-Event-Id header string false "Gateway event id"
// @Success 200 {object} helpers.APIResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request or signature_mismatch"
// @Failure 413 {object} helpers.APIResponse "error.code: payload_too_large"
// @Router /payments/webhook [post]
func (c *PaymentController) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			helpers.WriteJSONError(w, http.StatusRequestEntityTooLarge, helpers.ErrCodePayloadTooLarge, "request body too large")
			return
		}
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "could not read body")
		return
	}
	sig := strings.TrimSpace(r.Header.Get(HeaderWebhookSignature))
	if sig == "" {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "missing signature")
		return
	}

	err = c.Service.HandleWebhook(r.Context(), body, sig, r.Header.Get(HeaderWebhookEventID))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSignatureMismatch):
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeSignatureMismatch, "invalid signature")
		return
	case errors.Is(err, domain.ErrConfiguration):
		c.Logger.ErrorContext(r.Context(), "webhook rejected, payment system not configured", "err", err)
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "webhook not accepted")
		return
	case errors.Is(err, domain.ErrValidation):
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "malformed payload")
		return
	default:
		// Past verification the gateway must not be made to retry.
		c.Logger.ErrorContext(r.Context(), "webhook processing failed", "err", err)
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, WebhookResponse{Received: true})
}
