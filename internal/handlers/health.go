package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health responds with 200 while the database answers and 503 otherwise.
func Health(db Pinger, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("health check: database unreachable")
			payload["status"] = "degraded"
			payload["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, logger, status, payload)
	}
}
