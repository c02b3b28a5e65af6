package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bsos-ops/bsos/backend/internal/config"
)

// Counter is the subset of Redis the limiter needs.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

var _ Counter = (*RedisCounter)(nil)

// RedisCounter implements Counter on a go-redis client.
type RedisCounter struct {
	cli *redis.Client
}

// NewRedisCounter connects to Redis and verifies the connection. cfg.URL may
// be a redis:// URL or a bare host:port.
func NewRedisCounter(ctx context.Context, cfg config.RedisConfig) (*RedisCounter, error) {
	if cfg.URL == "" {
		return nil, errors.New("ratelimit: redis url is empty")
	}

	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
		}
		if cfg.Password != "" {
			parsed.Password = cfg.Password
		}
		if cfg.DB != 0 {
			parsed.DB = cfg.DB
		}
		opts = parsed
	}

	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ratelimit: ping redis: %w", err)
	}
	return &RedisCounter{cli: c}, nil
}

func (c *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return c.cli.Incr(ctx, key).Result()
}

func (c *RedisCounter) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.cli.Expire(ctx, key, expiration).Err()
}

func (c *RedisCounter) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *RedisCounter) Close() error { return c.cli.Close() }
