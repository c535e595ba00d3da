package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/garmax-api/internal/api/middleware"
	"github.com/phrazzld/garmax-api/internal/service/auth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps collects what the router needs to build its handlers.
type RouterDeps struct {
	Queue          Queue
	Batches        BatchFinder
	Budget         BudgetReporter
	Subscriptions  Subscriptions
	Stats          StatsReporter
	JWT            auth.JWTService
	HealthChecks   map[string]HealthCheck
	OriginPatterns []string
	Logger         *slog.Logger
}

// NewRouter wires the HTTP surface.
func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewTraceMiddleware(logger))

	generations := NewGenerationHandler(d.Queue, d.Batches, d.Budget, logger)
	sessions := NewSessionHandler(d.Subscriptions, d.OriginPatterns, logger)
	system := NewSystemHandler(d.Stats, d.HealthChecks, logger)
	authMiddleware := middleware.NewAuthMiddleware(d.JWT)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/generations", generations.Enqueue)
		r.Delete("/generations/{id}", generations.Withdraw)
		r.Get("/generations/{id}/batch", generations.GetBatch)
		r.Get("/queue", generations.QueueStatus)
		r.Get("/sessions/{sessionID}/events", sessions.Events)
	})

	r.Get("/health", system.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
