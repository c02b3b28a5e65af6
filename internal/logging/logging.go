// Package logging builds the service's zerolog loggers.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/config"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats.
func New(cfg config.LogConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// FromContext returns base enriched with the chi request id, when present.
func FromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if id := middleware.GetReqID(ctx); id != "" {
		return base.With().Str("request_id", id).Logger()
	}
	return base
}

// Redact hides most of an identifier; short values are fully masked.
func Redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}
