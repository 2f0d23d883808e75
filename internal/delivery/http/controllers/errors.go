package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"eventpayments/internal/delivery/http/helpers"
	"eventpayments/internal/delivery/http/middleware"
	"eventpayments/internal/domain"
)

type errorResponse struct {
	status  int
	code    string
	message string
	// safe marks messages built from the error text itself, which never carry secrets.
	safe bool
}

// classify maps service errors to a status code and a message that is safe for browsers.
func classify(err error) errorResponse {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return errorResponse{http.StatusBadRequest, helpers.ErrCodeBadRequest, "", true}
	case errors.Is(err, domain.ErrSignatureMismatch):
		return errorResponse{http.StatusBadRequest, helpers.ErrCodeSignatureMismatch, "payment verification failed", false}
	case errors.Is(err, domain.ErrNotFound):
		return errorResponse{http.StatusNotFound, helpers.ErrCodeNotFound, "not found", false}
	case errors.Is(err, domain.ErrForbidden):
		return errorResponse{http.StatusForbidden, helpers.ErrCodeForbidden, "forbidden", false}
	case errors.Is(err, domain.ErrAlreadyRegistered), errors.Is(err, domain.ErrInvalidState):
		return errorResponse{http.StatusConflict, helpers.ErrCodeConflict, "", true}
	case errors.Is(err, domain.ErrConfiguration):
		return errorResponse{http.StatusServiceUnavailable, helpers.ErrCodePaymentUnavailable, "payment system unavailable", false}
	case errors.Is(err, domain.ErrGatewayAuth):
		return errorResponse{http.StatusBadGateway, helpers.ErrCodeGatewayError, "payment gateway rejected our credentials, please contact support", false}
	case errors.Is(err, domain.ErrTimeout):
		return errorResponse{http.StatusGatewayTimeout, helpers.ErrCodeGatewayTimeout, "payment gateway timed out, please try again", false}
	case errors.Is(err, domain.ErrNetwork):
		return errorResponse{http.StatusServiceUnavailable, helpers.ErrCodeGatewayError, "could not reach the payment gateway, please try again", false}
	case errors.Is(err, domain.ErrGateway):
		return errorResponse{http.StatusBadGateway, helpers.ErrCodeGatewayError, "payment gateway error, please try again", false}
	default:
		return errorResponse{http.StatusInternalServerError, helpers.ErrCodeInternalError, "internal error", false}
	}
}

// writeServiceError logs err and writes the classified response. With debug set,
// 5xx responses carry the error text in error.detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, debug bool, err error) {
	resp := classify(err)
	message := resp.message
	if resp.safe {
		message = err.Error()
	}
	detail := ""
	if resp.status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		if debug {
			detail = err.Error()
		}
	} else {
		logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", resp.status, "err", err)
	}
	helpers.WriteJSONErrorDetail(w, resp.status, resp.code, message, detail)
}

// requireUser reads the authenticated user or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		helpers.WriteJSONError(w, http.StatusUnauthorized, helpers.ErrCodeUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

// pathUUID reads a UUID path value or writes 400.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := r.PathValue(name)
	if raw == "" {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "missing "+name)
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "invalid "+name)
		return "", false
	}
	return id.String(), true
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
