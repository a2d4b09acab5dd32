package rest

import (
	"log/slog"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/auth"
	"github.com/frahmantamala/enrollment-payments/internal/enrollment"
	"github.com/frahmantamala/enrollment-payments/internal/payment"
	"github.com/frahmantamala/enrollment-payments/internal/report"
	"github.com/frahmantamala/enrollment-payments/internal/transport/middleware"
	"github.com/frahmantamala/enrollment-payments/internal/transport/swagger"
	"github.com/frahmantamala/enrollment-payments/internal/webhook"
)

// Handlers groups everything the router mounts. Nil handlers leave their routes out.
type Handlers struct {
	Auth       *auth.Handler
	Payment    *payment.Handler
	Webhook    *webhook.Handler
	Enrollment *enrollment.Handler
	Report     *report.Handler
	Health     *HealthHandler
	OpenAPI    []byte
}

type RouterOptions struct {
	AllowedOrigins string
}

func RegisterAllRoutes(router chi.Router, h Handlers, opts RouterOptions, logger *slog.Logger) {
	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	if len(h.OpenAPI) > 0 {
		router.Get("/openapi.yml", swagger.SpecHandler(h.OpenAPI))
		router.Handle("/swagger/*", swagger.Handler())
	}

	// Gateways authenticate with a body signature, not a bearer token.
	if h.Webhook != nil {
		router.Post("/webhooks/{gateway}", h.Webhook.Receive)
	}

	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		if h.Auth == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			if h.Payment != nil {
				pr.Post("/payments/initialize", h.Payment.Initialize)
				pr.Get("/payments", h.Payment.ListPayments)
				pr.Get("/payments/verify/{reference}", h.Payment.Verify)
				pr.Get("/payments/{id}", h.Payment.GetPayment)
			}
			if h.Enrollment != nil {
				pr.Post("/applications", h.Enrollment.CreateApplication)
				pr.Get("/installment-plans/{id}", h.Enrollment.GetInstallmentPlan)
			}

			pr.Route("/admin", func(ar chi.Router) {
				ar.Use(h.Auth.RequireRole(internal.RoleAdmin))

				if h.Payment != nil {
					ar.Post("/payments/{id}/confirm", h.Payment.ConfirmPayment)
					ar.Post("/payments/{id}/refund", h.Payment.RefundPayment)
				}
				if h.Report != nil {
					ar.Get("/payments/export", h.Report.ExportLedger)
				}
				if h.Enrollment != nil {
					ar.Post("/applications/{id}/review", h.Enrollment.ReviewApplication)
					ar.Post("/installment-plans", h.Enrollment.CreateInstallmentPlan)
				}
			})
		})
	})
}
