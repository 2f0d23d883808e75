package controllers

import (
	"log/slog"
	"net/http"
	"strings"

	"eventpayments/internal/delivery/http/helpers"
	"eventpayments/internal/domain"
)

type RegistrationController struct {
	Logger  *slog.Logger
	Service domain.RegistrationService
	Debug   bool
}

func NewRegistrationController(logger *slog.Logger, svc domain.RegistrationService, debug bool) *RegistrationController {
	return &RegistrationController{
		Logger:  logger,
		Service: svc,
		Debug:   debug,
	}
}

// SubmitRegistrationRequest is the request body for POST /events/{eventID}/registrations.
type SubmitRegistrationRequest struct {
	FormData map[string]any `json:"form_data"`
}

// RegistrationSuccessResponse is the success envelope for registration endpoints returning a registration and its payment.
type RegistrationSuccessResponse struct {
	Data  *domain.RegistrationWithPayment `json:"data"`
	Error *helpers.APIError               `json:"error"`
}

// Submit godoc
// @Summary Register for an event
// @Description Creates the caller's registration. Paid events also get a pending payment at the event fee; free events are marked paid.
// @Tags registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID (UUID)"
// @Param body body controllers.SubmitRegistrationRequest false "Form answers"
// @Success 201 {object} controllers.RegistrationSuccessResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 409 {object} helpers.APIResponse "error.code: conflict"
// @Router /events/{eventID}/registrations [post]
func (c *RegistrationController) Submit(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req SubmitRegistrationRequest
	if r.ContentLength != 0 {
		if !helpers.DecodeAndValidate(w, r, &req) {
			return
		}
	}
	out, err := c.Service.Submit(r.Context(), eventID, userID, req.FormData)
	if err != nil {
		writeServiceError(w, r, c.Logger, c.Debug, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusCreated, out)
}

// Get godoc
// @Summary Get a registration
// @Description Returns the caller's registration with its latest payment.
// @Tags registrations
// @Produce json
// @Security BearerAuth
// @Param registrationID path string true "Registration ID (UUID)"
// @Success 200 {object} controllers.RegistrationSuccessResponse
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Router /registrations/{registrationID} [get]
func (c *RegistrationController) Get(w http.ResponseWriter, r *http.Request) {
	registrationID, ok := pathUUID(w, r, "registrationID")
	if !ok {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	out, err := c.Service.Get(r.Context(), registrationID, userID)
	if err != nil {
		writeServiceError(w, r, c.Logger, c.Debug, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, out)
}

// PaymentSuccessResponse is the success envelope for POST /registrations/{registrationID}/payments (200).
type PaymentSuccessResponse struct {
	Data  *domain.Payment   `json:"data"`
	Error *helpers.APIError `json:"error"`
}

// EnsurePayment godoc
// @Summary Get or create the pending payment
// @Description Used to retry checkout after a failure. Returns the pending payment, creating one at the event fee if needed.
// @Tags registrations
// @Produce json
// @Security BearerAuth
// @Param registrationID path string true "Registration ID (UUID)"
// @Success 200 {object} controllers.PaymentSuccessResponse
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 409 {object} helpers.APIResponse "error.code: conflict"
// @Router /registrations/{registrationID}/payments [post]
func (c *RegistrationController) EnsurePayment(w http.ResponseWriter, r *http.Request) {
	registrationID, ok := pathUUID(w, r, "registrationID")
	if !ok {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := c.Service.EnsurePendingPayment(r.Context(), registrationID, userID)
	if err != nil {
		writeServiceError(w, r, c.Logger, c.Debug, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, p)
}

// ListRegistrationsResponse is the data payload for GET /events/{eventID}/registrations (200).
type ListRegistrationsResponse struct {
	Items      []*domain.Registration `json:"items"`
	Pagination helpers.PaginationMeta `json:"pagination"`
}

// ListRegistrationsSuccessResponse is the success response envelope for GET /events/{eventID}/registrations (200).
type ListRegistrationsSuccessResponse struct {
	Data  ListRegistrationsResponse `json:"data"`
	Error *helpers.APIError         `json:"error"`
}

// ListForEvent godoc
// @Summary List an event's registrations
// @Description Event owner only. Supports page and page_size query parameters.
// @Tags registrations
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID (UUID)"
// @Param page query int false "Page (default 1)"
// @Param page_size query int false "Page size (default 20, max 100)"
// @Success 200 {object} controllers.ListRegistrationsSuccessResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 403 {object} helpers.APIResponse "error.code: forbidden"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Router /events/{eventID}/registrations [get]
func (c *RegistrationController) ListForEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	params, errs := helpers.ParsePagination(r)
	if len(errs) > 0 {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, strings.Join(errs, "; "))
		return
	}
	list, total, err := c.Service.ListForEvent(r.Context(), eventID, userID, params)
	if err != nil {
		writeServiceError(w, r, c.Logger, c.Debug, err)
		return
	}
	if list == nil {
		list = []*domain.Registration{}
	}
	meta := helpers.NewPaginationMeta(params, total)
	helpers.WriteJSONSuccess(w, http.StatusOK, ListRegistrationsResponse{Items: list, Pagination: meta})
}

// ReviewRegistrationRequest is the request body for PATCH /registrations/{registrationID}/status.
type ReviewRegistrationRequest struct {
	Status string `json:"status"`
}

// Validate implements helpers.Validator.
func (r *ReviewRegistrationRequest) Validate() []string {
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	switch domain.RegistrationStatus(r.Status) {
	case domain.RegistrationAccepted, domain.RegistrationRejected:
		return nil
	case "":
		return []string{"status is required"}
	}
	return []string{"status must be accepted or rejected"}
}

// Review godoc
// @Summary Accept or reject a registration
// @Description Event owner only. Payment status is not changed. The decision is written to the activity log.
// @Tags registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param registrationID path string true "Registration ID (UUID)"
// @Param body body controllers.ReviewRegistrationRequest true "Decision"
// @Success 200 {object} helpers.APIResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 403 {object} helpers.APIResponse "error.code: forbidden"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Router /registrations/{registrationID}/status [patch]
func (c *RegistrationController) Review(w http.ResponseWriter, r *http.Request) {
	registrationID, ok := pathUUID(w, r, "registrationID")
	if !ok {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req ReviewRegistrationRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}
	reg, err := c.Service.Review(r.Context(), registrationID, userID, domain.RegistrationStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, c.Logger, c.Debug, err)
		return
	}
	helpers.WriteJSONSuccess(w, http.StatusOK, reg)
}
