package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (c *memCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) Expire(_ context.Context, key string, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expires[key] = d
	return nil
}

func TestLimiterRejectsAfterLimit(t *testing.T) {
	counter := newMemCounter()
	l := NewLimiter(counter, 2, time.Minute)
	fixed := time.Date(2024, 1, 1, 10, 0, 15, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 2; i++ {
		d, err := l.Allow(context.Background(), "api", "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Allow(context.Background(), "api", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Equal(t, 45*time.Second, d.RetryAfter)

	other, err := l.Allow(context.Background(), "api", "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	key := Key("api", "10.0.0.1", fixed.UnixNano()/int64(time.Minute))
	assert.Equal(t, time.Minute, counter.expires[key])
}

func TestLimiterNewWindowResets(t *testing.T) {
	l := NewLimiter(newMemCounter(), 1, time.Minute)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	d, _ := l.Allow(context.Background(), "api", "c")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(context.Background(), "api", "c")
	assert.False(t, d.Allowed)

	now = now.Add(time.Minute)
	d, _ = l.Allow(context.Background(), "api", "c")
	assert.True(t, d.Allowed)
}

func TestLimiterFailsOpen(t *testing.T) {
	counter := newMemCounter()
	counter.err = errors.New("redis down")
	l := NewLimiter(counter, 1, time.Minute)

	d, err := l.Allow(context.Background(), "api", "c")
	require.Error(t, err)
	assert.True(t, d.Allowed)
}
