package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faultline/faultline/internal/config"
)

// NewRouter mounts the HTTP surface. changes serves the live change feed.
func NewRouter(h *HTTPHandler, changes http.HandlerFunc, cfg config.RateLimitConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.RequestsPerSecond > 0 {
			r.Use(httprate.LimitByIP(cfg.RequestsPerSecond, time.Second))
		}
		r.Post("/messages", h.HandleMessage)
		r.Get("/events", h.HandleEvents)
		if changes != nil {
			r.Get("/changes", changes)
		}
	})
	return r
}
