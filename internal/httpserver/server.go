package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/config"
	"github.com/bsos-ops/bsos/backend/internal/handlers"
	"github.com/bsos-ops/bsos/backend/internal/metrics"
	requesttracking "github.com/bsos-ops/bsos/backend/internal/middleware"
	"github.com/bsos-ops/bsos/backend/internal/worker"
)

// apiRateLimitScope is the limiter key prefix for the read and operator API.
const apiRateLimitScope = "api"

// Deps are the collaborators the router serves. Jobs and Limiter may be nil.
type Deps struct {
	Webhooks handlers.WebhookProcessor
	Records  handlers.RecordReader
	DB       handlers.Pinger
	Jobs     handlers.JobService
	Limiter  requesttracking.Allower
	Worker   *worker.Worker
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
	logger     zerolog.Logger
}

// New constructs an HTTP server using the provided configuration and collaborators.
func New(cfg config.Config, deps Deps, logger zerolog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requesttracking.NewRequestTracker(logger).Middleware())

	router.Get("/healthz", handlers.Health(deps.DB, logger))
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Provider deliveries are never rate limited; a 429 would only trigger
	// retries of events we have not seen.
	webhook := handlers.Webhook(deps.Webhooks, logger)
	router.Post("/webhooks/payments", webhook)
	router.Post("/api/webhooks/stripe", webhook)

	router.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(requesttracking.RateLimit(deps.Limiter, apiRateLimitScope, logger))
		}

		r.Get("/api/billing/payments", handlers.ListPayments(deps.Records, logger))
		r.Get("/api/billing/subscriptions", handlers.ListSubscriptions(deps.Records, logger))
		r.Get("/api/billing/subscriptions/{id}", handlers.GetSubscription(deps.Records, logger))

		r.Post("/api/reconcile/invoices", handlers.ReconcileInvoices(deps.Jobs, cfg.Worker.ReconcileLookback, logger))
		r.Post("/api/reconcile/subscriptions/{id}", handlers.ReconcileSubscription(deps.Jobs, logger))
		r.Get("/api/jobs/stats", handlers.GetJobStats(deps.Jobs, logger))
		r.Get("/api/jobs/{id}", handlers.GetJob(deps.Jobs, logger))
		r.Post("/api/jobs/{id}/cancel", handlers.CancelJob(deps.Jobs, logger))
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker, logger: logger}
}

// Start begins serving HTTP traffic and starts the worker.
func (s *Server) Start(ctx context.Context) error {
	if s.worker != nil {
		s.logger.Info().Msg("starting job worker")
		s.worker.Start(ctx)
	}
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.worker != nil {
		s.logger.Info().Msg("shutting down job worker")
		if werr := s.worker.Stop(ctx); werr != nil {
			s.logger.Error().Err(werr).Msg("worker shutdown error")
		}
	}
	return err
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
