package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jeanedlune/idbkv/internal/logging"
)

// Router mounts the store, snapshot, health and metrics routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.AllowContentType("application/json"))

	// Store routes
	r.Route("/kv", func(r chi.Router) {
		r.Get("/", s.ListKeys)
		r.Delete("/", s.ClearValues)
		r.Put("/{key}", s.SetValue)
		r.Get("/{key}", s.GetValue)
		r.Delete("/{key}", s.DeleteValue)
	})

	// Snapshot routes
	r.Get("/snapshot", s.DumpSnapshot)
	r.Post("/snapshot", s.RestoreSnapshot)

	// Health check endpoints
	r.Get("/health", s.HealthCheck)
	r.Get("/ready", s.ReadinessCheck)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}
