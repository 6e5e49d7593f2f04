// Package redis provides the shared Redis-backed storage used by the
// namespaced cache (spec §4.3) and the adaptive rate limiter (spec §4.10):
// a thin connection wrapper plus a namespaced KV + atomic-counter backend
// guarded by a circuit breaker with an in-memory fallback, grounded on the
// original `ratelimiter.go`'s Lua-scripted INCR+EXPIRE pattern and
// breaker-guarded-fallback shape.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/infra/wrapper"
)

// Client wraps a pooled go-redis connection.
type Client struct {
	rdb *redis.Client
}

// NewClient dials Redis per cfg and verifies connectivity with a Ping.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: connect to %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping reports whether Redis is reachable, applying a default deadline
// when ctx carries none.
func (c *Client) Ping(ctx context.Context) error {
	return wrapper.PingRedis(ctx, pinger{c.rdb})
}

type pinger struct{ rdb *redis.Client }

func (p pinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

// Raw exposes the underlying go-redis client for callers that need direct
// access (e.g. to build their own pipelines).
func (c *Client) Raw() *redis.Client {
	return c.rdb
}
