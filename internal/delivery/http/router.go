package http

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"

	"eventpayments/internal/delivery/http/controllers"
)

// Router bundles the controllers and the auth wrapper served by NewRouter.
type Router struct {
	Payments      *controllers.PaymentController
	Registrations *controllers.RegistrationController
	Health        *controllers.HealthController
	RequireAuth   func(http.HandlerFunc) http.HandlerFunc
}

// NewRouter initializes the HTTP router with all application routes
func NewRouter(rt Router) *http.ServeMux {
	mux := http.NewServeMux()
	auth := rt.RequireAuth

	// Payments
	mux.HandleFunc("POST /payments/orders", auth(rt.Payments.CreateOrder))
	mux.HandleFunc("POST /payments/verify", auth(rt.Payments.VerifyPayment))
	mux.HandleFunc("POST /payments/failures", auth(rt.Payments.ReportCheckoutFailure))
	// Signed by the gateway, no bearer token.
	mux.HandleFunc("POST /payments/webhook", rt.Payments.Webhook)

	// Registrations
	mux.HandleFunc("POST /events/{eventID}/registrations", auth(rt.Registrations.Submit))
	mux.HandleFunc("GET /events/{eventID}/registrations", auth(rt.Registrations.ListForEvent))
	mux.HandleFunc("GET /registrations/{registrationID}", auth(rt.Registrations.Get))
	mux.HandleFunc("POST /registrations/{registrationID}/payments", auth(rt.Registrations.EnsurePayment))
	mux.HandleFunc("PATCH /registrations/{registrationID}/status", auth(rt.Registrations.Review))

	mux.HandleFunc("GET /healthz", rt.Health.Health)

	// Swagger
	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	return mux
}
