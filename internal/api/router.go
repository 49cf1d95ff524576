package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/shresthakamal/try-on/internal/api/middleware"
	"github.com/shresthakamal/try-on/internal/handlers"
)

// maxWebhookBody bounds the form the provider posts; media arrives by URL.
const maxWebhookBody = 64 * 1024

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxWebhookBody))
	r.Use(middleware.ValidateRequest)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger, 10*time.Second))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	r.Post("/tryon", h.TryOn)

	// Read-only routes may be embedded in previews from any origin.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
			AllowedHeaders: []string{"Accept"},
			MaxAge:         300,
		}))

		r.Get("/", h.Root)
		r.Get("/media/{user}/{file}", h.Media)
	})

	return r
}
