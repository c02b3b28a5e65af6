package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string `yaml:"server_address"`

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string `yaml:"database_url"`

	// DatabaseDriver selects the database/sql driver: "postgres" (lib/pq) or "pgx".
	DatabaseDriver string `yaml:"database_driver"`

	Stripe    StripeConfig    `yaml:"stripe"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// StripeConfig holds the payment provider credentials.
type StripeConfig struct {
	// SecretKey authenticates outbound API calls. Reconciliation is disabled without it.
	SecretKey string `yaml:"secret_key"`

	// WebhookSecret is the endpoint signing secret. An empty value rejects every webhook.
	WebhookSecret string `yaml:"webhook_secret"`

	// WebhookTolerance bounds the age of a signed timestamp.
	WebhookTolerance time.Duration `yaml:"webhook_tolerance"`

	// ClaimLease is how long an unprocessed event claim blocks concurrent re-delivery.
	ClaimLease time.Duration `yaml:"claim_lease"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`

	// ReconcileInterval is the period of the invoice backfill. Zero disables it.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileLookback time.Duration `yaml:"reconcile_lookback"`
}

const (
	defaultServerAddress     = ":18111"
	defaultDatabaseDriver    = "postgres"
	defaultWebhookTolerance  = 5 * time.Minute
	defaultClaimLease        = 2 * time.Minute
	defaultRateLimitRequests = 120
	defaultRateLimitWindow   = time.Minute
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultWorkerConcurrency = 2
	defaultReconcileInterval = 15 * time.Minute
	defaultReconcileLookback = 24 * time.Hour

	envConfigFile        = "CONFIG_FILE"
	envServerAddress     = "BACKEND_ADDR"
	envDatabaseURL       = "DATABASE_URL"
	envDatabaseDriver    = "DATABASE_DRIVER"
	envStripeSecretKey   = "STRIPE_SECRET_KEY"
	envStripeWebhookKey  = "STRIPE_WEBHOOK_SECRET"
	envWebhookTolerance  = "STRIPE_WEBHOOK_TOLERANCE"
	envClaimLease        = "WEBHOOK_CLAIM_LEASE"
	envRedisURL          = "REDIS_URL"
	envRedisPassword     = "REDIS_PASSWORD"
	envRedisDB           = "REDIS_DB"
	envRateLimitRequests = "RATE_LIMIT_REQUESTS"
	envRateLimitWindow   = "RATE_LIMIT_WINDOW"
	envLogLevel          = "LOG_LEVEL"
	envLogFormat         = "LOG_FORMAT"
	envWorkerConcurrency = "WORKER_CONCURRENCY"
	envReconcileInterval = "RECONCILE_INTERVAL"
	envReconcileLookback = "RECONCILE_LOOKBACK"
)

// Load reads configuration from an optional YAML file and environment variables,
// applies defaults, and returns a Config structure. Environment values win over
// the file. Required values return an error when missing.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.ServerAddress = firstNonEmpty(os.Getenv(envServerAddress), cfg.ServerAddress)
	cfg.DatabaseURL = firstNonEmpty(os.Getenv(envDatabaseURL), cfg.DatabaseURL)
	cfg.DatabaseDriver = firstNonEmpty(os.Getenv(envDatabaseDriver), cfg.DatabaseDriver)
	cfg.Stripe.SecretKey = firstNonEmpty(os.Getenv(envStripeSecretKey), cfg.Stripe.SecretKey)
	cfg.Stripe.WebhookSecret = firstNonEmpty(os.Getenv(envStripeWebhookKey), cfg.Stripe.WebhookSecret)
	cfg.Redis.URL = firstNonEmpty(os.Getenv(envRedisURL), cfg.Redis.URL)
	cfg.Redis.Password = firstNonEmpty(os.Getenv(envRedisPassword), cfg.Redis.Password)
	cfg.Log.Level = firstNonEmpty(os.Getenv(envLogLevel), cfg.Log.Level)
	cfg.Log.Format = firstNonEmpty(os.Getenv(envLogFormat), cfg.Log.Format)

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{envWebhookTolerance, &cfg.Stripe.WebhookTolerance},
		{envClaimLease, &cfg.Stripe.ClaimLease},
		{envRateLimitWindow, &cfg.RateLimit.Window},
		{envReconcileInterval, &cfg.Worker.ReconcileInterval},
		{envReconcileLookback, &cfg.Worker.ReconcileLookback},
	}
	for _, d := range durations {
		if err := durationFromEnv(d.env, d.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		env string
		dst *int
	}{
		{envRedisDB, &cfg.Redis.DB},
		{envRateLimitRequests, &cfg.RateLimit.Requests},
		{envWorkerConcurrency, &cfg.Worker.Concurrency},
	}
	for _, i := range ints {
		if err := intFromEnv(i.env, i.dst); err != nil {
			return Config{}, err
		}
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "pgx" {
		return Config{}, fmt.Errorf("%s must be postgres or pgx, got %q", envDatabaseDriver, cfg.DatabaseDriver)
	}
	if cfg.Stripe.WebhookTolerance <= 0 {
		cfg.Stripe.WebhookTolerance = defaultWebhookTolerance
	}
	if cfg.Stripe.ClaimLease <= 0 {
		cfg.Stripe.ClaimLease = defaultClaimLease
	}
	if cfg.RateLimit.Requests <= 0 {
		cfg.RateLimit.Requests = defaultRateLimitRequests
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = defaultRateLimitWindow
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = defaultWorkerConcurrency
	}
	if cfg.Worker.ReconcileLookback <= 0 {
		cfg.Worker.ReconcileLookback = defaultReconcileLookback
	}

	return cfg, nil
}

// ReconcileEnabled reports whether outbound reconciliation can run.
func (c Config) ReconcileEnabled() bool {
	return c.Stripe.SecretKey != ""
}

func defaults() Config {
	return Config{
		ServerAddress:  defaultServerAddress,
		DatabaseDriver: defaultDatabaseDriver,
		Stripe: StripeConfig{
			WebhookTolerance: defaultWebhookTolerance,
			ClaimLease:       defaultClaimLease,
		},
		RateLimit: RateLimitConfig{
			Requests: defaultRateLimitRequests,
			Window:   defaultRateLimitWindow,
		},
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Worker: WorkerConfig{
			Concurrency:       defaultWorkerConcurrency,
			ReconcileInterval: defaultReconcileInterval,
			ReconcileLookback: defaultReconcileLookback,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func durationFromEnv(key string, dst *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func intFromEnv(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
