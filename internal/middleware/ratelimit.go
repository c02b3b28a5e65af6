package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/metrics"
	"github.com/bsos-ops/bsos/backend/internal/ratelimit"
)

// Allower decides whether a client may make another request in scope.
type Allower interface {
	Allow(ctx context.Context, scope, client string) (ratelimit.Decision, error)
}

// RateLimit rejects clients over their budget with 429. Limiter errors let
// the request through.
func RateLimit(limiter Allower, scope string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)

			decision, err := limiter.Allow(r.Context(), scope, client)
			if err != nil {
				logger.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				metrics.IncRateLimitRejection(scope)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP expects chi's RealIP middleware to have normalised RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
