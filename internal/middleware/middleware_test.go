package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsos-ops/bsos/backend/internal/ratelimit"
)

type stubAllower struct {
	decision ratelimit.Decision
	err      error
	clients  []string
}

func (s *stubAllower) Allow(_ context.Context, _ string, client string) (ratelimit.Decision, error) {
	s.clients = append(s.clients, client)
	return s.decision, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	limiter := &stubAllower{decision: ratelimit.Decision{Allowed: false, Limit: 5, RetryAfter: 1500 * time.Millisecond}}
	h := RateLimit(limiter, "api", zerolog.Nop())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/billing/payments", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, []string{"192.0.2.10"}, limiter.clients)
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &stubAllower{err: errors.New("redis down")}
	h := RateLimit(limiter, "api", zerolog.Nop())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/billing/payments", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestTrackerLogsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewRequestTracker(zerolog.New(&buf))

	r := chi.NewRouter()
	r.Use(tracker.Middleware())
	r.Get("/api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/42", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	out := buf.String()
	assert.Contains(t, out, `"route":"/api/jobs/{id}"`)
	assert.Contains(t, out, `"status":404`)
	assert.Contains(t, out, `"bytes":7`)
}
