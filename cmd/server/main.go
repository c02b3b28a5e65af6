package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/config"
	"github.com/bsos-ops/bsos/backend/internal/handlers"
	"github.com/bsos-ops/bsos/backend/internal/httpserver"
	"github.com/bsos-ops/bsos/backend/internal/logging"
	"github.com/bsos-ops/bsos/backend/internal/metrics"
	"github.com/bsos-ops/bsos/backend/internal/migrations"
	"github.com/bsos-ops/bsos/backend/internal/payments"
	"github.com/bsos-ops/bsos/backend/internal/ratelimit"
	"github.com/bsos-ops/bsos/backend/internal/store"
	"github.com/bsos-ops/bsos/backend/internal/stripe"
	"github.com/bsos-ops/bsos/backend/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log)
	metrics.MustRegister()

	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	logDBTarget(logger, cfg.DatabaseDriver, cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}

	if err := runMigrationsWithDirtyFix(db, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply database migrations")
	}

	records, err := store.New(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create record store")
	}
	ledger, err := store.NewLedger(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create ledger")
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := httpserver.Deps{Records: records, DB: records}
	opts := []payments.Option{
		payments.WithLogger(logger),
		payments.WithClaimLease(cfg.Stripe.ClaimLease),
	}

	if cfg.ReconcileEnabled() {
		jobWorker, err := newReconcileWorker(cfg, db, records, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to set up reconciliation")
		}
		deps.Worker = jobWorker
		deps.Jobs = jobWorker
		opts = append(opts, payments.WithBackfiller(jobWorker))

		if cfg.Worker.ReconcileInterval > 0 {
			reconciler := worker.NewReconciler(jobWorker, cfg.Worker.ReconcileInterval, cfg.Worker.ReconcileLookback, logger)
			go reconciler.Start(shutdownCtx)
		}
	} else {
		logger.Warn().Msg("STRIPE_SECRET_KEY not set; reconciliation jobs disabled")
	}

	if cfg.Redis.URL != "" {
		counter, err := ratelimit.NewRedisCounter(ctx, cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; api rate limiting disabled")
		} else {
			defer counter.Close()
			deps.Limiter = ratelimit.NewLimiter(counter, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		}
	}

	dispatcher := payments.NewDispatcher(payments.NewHandlers(records, nil), logger)
	if err := dispatcher.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("webhook dispatcher is incomplete")
	}
	verifier := stripe.NewVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance)
	deps.Webhooks = payments.NewPipeline(verifier, ledger, dispatcher, opts...)

	srv := httpserver.New(cfg, deps, logger)

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	logger.Info().Str("addr", cfg.ServerAddress).Msg("backend starting")
	if err := srv.Start(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func newReconcileWorker(cfg config.Config, db *sql.DB, records *store.Store, logger zerolog.Logger) (*worker.Worker, error) {
	jobs, err := store.NewJobStore(db)
	if err != nil {
		return nil, err
	}
	provider, err := stripe.NewClient(cfg.Stripe.SecretKey, nil)
	if err != nil {
		return nil, err
	}

	wcfg := worker.DefaultConfig()
	wcfg.MaxConcurrent = cfg.Worker.Concurrency

	w := worker.New(wcfg, jobs, logger)
	w.SetInstrumentation(worker.PrometheusInstrumentation())
	worker.RegisterReconcileJobs(w, provider, records)
	return w, nil
}

var _ handlers.JobService = (*worker.Worker)(nil)

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, logger zerolog.Logger) error {
	err := migrations.Up(db, logger)
	if err == nil || !migrations.IsDirty(err) {
		return err
	}

	logger.Warn().Err(err).Msg("migrations: dirty database detected, attempting to fix")
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		logger.Error().Err(fixErr).Msg("migrations: failed to fix dirty database")
		return err
	}
	return migrations.Up(db, logger)
}

func logDBTarget(logger zerolog.Logger, driver, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		logger.Info().Str("driver", driver).Err(err).Msg("db configured (dsn parse error)")
		return
	}
	logger.Info().
		Str("driver", driver).
		Str("host", u.Hostname()).
		Str("db", strings.TrimPrefix(u.Path, "/")).
		Msg("db target")
}
