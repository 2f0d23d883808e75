// @title Event Payments API
// @version 1.0
// @description Event registrations and gateway payment reconciliation.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"eventpayments/config"
	_ "eventpayments/docs"
	"eventpayments/internal/adapters/auth"
	"eventpayments/internal/adapters/email"
	"eventpayments/internal/adapters/rabbit"
	"eventpayments/internal/adapters/razorpay"
	deliveryhttp "eventpayments/internal/delivery/http"
	"eventpayments/internal/delivery/http/controllers"
	"eventpayments/internal/delivery/http/middleware"
	"eventpayments/internal/domain"
	"eventpayments/internal/repository/postgres"
	"eventpayments/internal/services"
)

func main() {
	logger := config.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}

	if missing := cfg.MissingPaymentSettings(); len(missing) > 0 {
		logger.Warn("payment gateway not configured, payment endpoints will answer 503", "missing", missing)
	}

	eventRepo := postgres.NewEventRepository(db)
	userRepo := postgres.NewUserRepository(db)
	registrationRepo := postgres.NewRegistrationRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	webhookEventRepo := postgres.NewWebhookEventRepository(db)
	activityRepo := postgres.NewActivityLogRepository(db)

	mailer, err := email.NewMailer(email.MailerConfig{
		Provider:    cfg.EmailProvider,
		FromAddress: cfg.EmailFromAddress,
		FromName:    cfg.EmailFromName,
		SES: email.SESConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretKey,
		},
	}, logger)
	if err != nil {
		logger.Error("failed to create mailer", "err", err)
		os.Exit(1)
	}
	emailService := services.NewEmailService(mailer, email.NewTemplateRenderer(), logger)
	emailNotifier := services.NewEmailNotifier(userRepo, eventRepo, emailService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// With a broker, completions are queued and mailed by the consumer; otherwise mailed inline.
	var notifier domain.PaymentNotifier = emailNotifier
	consumerDone := make(chan struct{})
	if cfg.AMQPURL != "" {
		broker, err := rabbit.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("failed to connect to broker", "err", err)
			os.Exit(1)
		}
		defer broker.Close()
		notifier = broker
		go func() {
			defer close(consumerDone)
			if err := broker.Consume(ctx, emailNotifier.PaymentCompleted); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("payment notification consumer stopped", "err", err)
			}
		}()
	} else {
		close(consumerDone)
	}

	issuer := razorpay.NewOrderIssuer(razorpay.Config{
		BaseURL:   cfg.RazorpayBaseURL,
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		Timeout:   cfg.GatewayTimeout,
	}, nil)

	paymentService := services.NewPaymentService(services.PaymentConfig{
		KeyID:          cfg.RazorpayKeyID,
		CheckoutSecret: cfg.RazorpayKeySecret,
		WebhookSecret:  cfg.RazorpayWebhookSecret,
	}, paymentRepo, registrationRepo, webhookEventRepo, issuer, notifier, logger)
	registrationService := services.NewRegistrationService(eventRepo, registrationRepo, paymentRepo, activityRepo, logger)

	debug := cfg.DebugErrors
	mux := deliveryhttp.NewRouter(deliveryhttp.Router{
		Payments:      controllers.NewPaymentController(logger, paymentService, debug),
		Registrations: controllers.NewRegistrationController(logger, registrationService, debug),
		Health:        &controllers.HealthController{Logger: logger, DB: db, PaymentsConfigured: cfg.PaymentsConfigured()},
		RequireAuth:   middleware.RequireAuth(auth.NewJWTVerifier(cfg.JWTSecret), logger),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.CORS(cfg.CORSAllowedOrigins, middleware.LoggingMiddleware(logger, mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server failed", "err", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		logger.Warn("notification consumer did not stop in time")
	}
	logger.Info("shutdown complete")
}
