package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/maltedev/lmpc-scraper/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the handlers together with request logging, recovery,
// CORS and Prometheus instrumentation.
func NewRouter(h *Handlers, allowedOrigins []string, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/compliance", func(r chi.Router) {
			r.Post("/check", h.Check)
			r.Get("/results", h.GetResult)
			r.Get("/results/list", h.ListResults)

			r.Post("/jobs", h.CreateJob)
			r.Get("/jobs", h.ListJobs)
			r.Get("/jobs/{jobID}", h.GetJob)
		})

		r.Get("/stats", h.GetStats)
	})

	return r
}
