// Package ratelimit is a fixed-window request limiter whose counters live in
// Redis, so limits hold across restarts and instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per scope and client in fixed windows.
type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewLimiter returns a limiter admitting limit requests per window.
func NewLimiter(counter Counter, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{counter: counter, limit: limit, window: window, now: time.Now}
}

// Allow counts one request. On a counter error the decision allows the
// request and the error is returned for logging.
func (l *Limiter) Allow(ctx context.Context, scope, client string) (Decision, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	key := Key(scope, client, slot)

	count, err := l.counter.Incr(ctx, key)
	if err != nil {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.counter.Expire(ctx, key, l.window); err != nil {
			return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - 1}, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{Allowed: count <= int64(l.limit), Limit: l.limit, Remaining: remaining}
	if !d.Allowed {
		windowEnd := time.Unix(0, (slot+1)*int64(l.window))
		d.RetryAfter = windowEnd.Sub(now)
	}
	return d, nil
}

// Key builds the counter key for a scope, client and window slot.
func Key(scope, client string, slot int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, client, slot)
}
