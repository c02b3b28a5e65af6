package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/metrics"
)

// RequestTracker records request metrics and writes one access log line per request.
type RequestTracker struct {
	logger zerolog.Logger
}

// NewRequestTracker creates a new request tracker middleware
func NewRequestTracker(logger zerolog.Logger) *RequestTracker {
	return &RequestTracker{logger: logger.With().Str("component", "http").Logger()}
}

// Middleware returns an HTTP middleware that tracks request metrics
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)

			// The pattern is only complete once routing has finished.
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}

			metrics.ObserveHTTP(r.Method, route, rw.statusCode, duration)

			evt := rt.logger.Info()
			if rw.statusCode >= http.StatusInternalServerError {
				evt = rt.logger.Error()
			}
			evt.
				Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", rw.statusCode).
				Int("bytes", rw.size).
				Dur("duration", duration).
				Msg("request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
	wrote      bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wrote {
		rw.statusCode = code
		rw.wrote = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wrote = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}
