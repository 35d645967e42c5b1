package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/consultation-booking/internal/appointment"
	"github.com/frahmantamala/consultation-booking/internal/transaction"
	"github.com/frahmantamala/consultation-booking/internal/transport/middleware"
	"github.com/frahmantamala/consultation-booking/internal/transport/swagger"
	"github.com/frahmantamala/consultation-booking/internal/wallet"
)

type Handlers struct {
	Health         *HealthHandler
	Appointment    *appointment.Handler
	Wallet         *wallet.Handler
	Webhook        *transaction.WebhookHandler
	Authenticate   func(http.Handler) http.Handler
	OpenAPI        []byte
	AllowedOrigins []string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, logger *slog.Logger) {
	router.Use(middleware.CORS(h.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	if h.OpenAPI != nil {
		router.Get("/openapi.yml", swagger.Document(h.OpenAPI))
		router.Handle("/swagger/*", swagger.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		// gateway callbacks carry no bearer token
		if h.Webhook != nil {
			r.Post("/payment/callback", h.Webhook.HandlePaymentCallback)
		}

		if h.Authenticate == nil {
			return
		}
		r.Group(func(pr chi.Router) {
			pr.Use(h.Authenticate)

			if h.Appointment != nil {
				pr.Route("/appointments", func(ar chi.Router) {
					ar.Post("/", h.Appointment.CreateBooking)
					ar.Get("/{id}", h.Appointment.GetAppointment)
					ar.Post("/{id}/cancel", h.Appointment.CancelBooking)
					ar.Patch("/{id}/reschedule", h.Appointment.RescheduleBooking)
				})
			}

			if h.Wallet != nil {
				pr.Get("/wallet", h.Wallet.GetMyWallet)
			}
		})
	})
}
