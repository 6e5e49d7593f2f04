package redis

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/infra/wrapper"
	"github.com/lattice-id/identity-core/internal/resilience"
)

// incrScript atomically increments a counter and sets its expiry on first
// increment, giving a fixed window that starts at the first increment (spec
// §4.10).
// KEYS[1] = counter key, ARGV[1] = window in seconds.
// Returns the counter's new value.
const incrScript = `
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return current
`

// Backend is a namespaced key-value store plus atomic counter, backed by
// Redis and guarded by a circuit breaker. On breaker-open or any Redis
// error it falls back to an in-memory store, trading cross-instance
// consistency for availability (spec §4.3's cache and §4.10's rate
// limiter both tolerate a degraded, instance-local fallback).
type Backend struct {
	client  *Client
	breaker *resilience.CircuitBreaker

	mu       sync.Mutex
	fallback map[string]fallbackEntry
	counters map[string]fallbackCounter
}

type fallbackEntry struct {
	value     []byte
	expiresAt time.Time
}

type fallbackCounter struct {
	count     int64
	expiresAt time.Time
}

// NewBackend constructs a Backend over client, guarded by a circuit breaker
// built from cfg.
func NewBackend(client *Client, cfg config.CircuitBreakerConfig, opts ...resilience.CircuitBreakerOption) *Backend {
	return &Backend{
		client:   client,
		breaker:  resilience.NewCircuitBreaker("redis-backend", cfg, opts...),
		fallback: make(map[string]fallbackEntry),
		counters: make(map[string]fallbackCounter),
	}
}

func namespacedKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get retrieves the value stored at namespace:key. ok is false if the key
// does not exist (in either Redis or the fallback store).
func (b *Backend) Get(ctx context.Context, namespace, key string) (value []byte, ok bool, err error) {
	fullKey := namespacedKey(namespace, key)

	execErr := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return wrapper.DoRedis(ctx, func(ctx context.Context) error {
			v, getErr := b.client.Raw().Get(ctx, fullKey).Bytes()
			if getErr == goredis.Nil {
				ok = false
				return nil
			}
			if getErr != nil {
				return getErr
			}
			value, ok = v, true
			return nil
		})
	})
	if execErr == nil {
		return value, ok, nil
	}

	return b.fallbackGet(fullKey)
}

// Set stores value at namespace:key with the given TTL.
func (b *Backend) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	fullKey := namespacedKey(namespace, key)

	execErr := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return wrapper.DoRedis(ctx, func(ctx context.Context) error {
			return b.client.Raw().Set(ctx, fullKey, value, ttl).Err()
		})
	})
	if execErr == nil {
		return nil
	}

	b.fallbackSet(fullKey, value, ttl)
	return nil
}

// Delete removes namespace:key.
func (b *Backend) Delete(ctx context.Context, namespace, key string) error {
	fullKey := namespacedKey(namespace, key)

	execErr := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return wrapper.DoRedis(ctx, func(ctx context.Context) error {
			return b.client.Raw().Del(ctx, fullKey).Err()
		})
	})
	if execErr == nil {
		return nil
	}

	b.mu.Lock()
	delete(b.fallback, fullKey)
	b.mu.Unlock()
	return nil
}

// Incr atomically increments the counter at namespace:key, setting it to
// expire after window on first increment, and returns its new value: a
// fixed-window counter.
func (b *Backend) Incr(ctx context.Context, namespace, key string, window time.Duration) (int64, error) {
	fullKey := namespacedKey(namespace, key)
	var count int64

	execErr := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return wrapper.DoRedis(ctx, func(ctx context.Context) error {
			result, evalErr := b.client.Raw().Eval(ctx, incrScript, []string{fullKey}, int(window.Seconds())).Int64()
			if evalErr != nil {
				return evalErr
			}
			count = result
			return nil
		})
	})
	if execErr == nil {
		return count, nil
	}

	return b.fallbackIncr(fullKey, window), nil
}

// CheckAndStore atomically reports whether namespace:key was already
// present and, if not, stores it with ttl — used for DPoP jti replay
// detection (spec §4.8 step 4) where "already present" must mean a replay.
func (b *Backend) CheckAndStore(ctx context.Context, namespace, key string, ttl time.Duration) (alreadyPresent bool, err error) {
	fullKey := namespacedKey(namespace, key)

	execErr := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return wrapper.DoRedis(ctx, func(ctx context.Context) error {
			set, setErr := b.client.Raw().SetNX(ctx, fullKey, []byte{1}, ttl).Result()
			if setErr != nil {
				return setErr
			}
			alreadyPresent = !set
			return nil
		})
	})
	if execErr == nil {
		return alreadyPresent, nil
	}

	return b.fallbackCheckAndStore(fullKey, ttl), nil
}

func (b *Backend) fallbackCheckAndStore(fullKey string, ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.fallback[fullKey]; ok && time.Now().Before(entry.expiresAt) {
		return true
	}
	b.fallback[fullKey] = fallbackEntry{value: []byte{1}, expiresAt: time.Now().Add(ttl)}
	return false
}

func (b *Backend) fallbackGet(fullKey string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.fallback[fullKey]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(b.fallback, fullKey)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (b *Backend) fallbackSet(fullKey string, value []byte, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback[fullKey] = fallbackEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (b *Backend) fallbackIncr(fullKey string, window time.Duration) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	c, ok := b.counters[fullKey]
	if !ok || now.After(c.expiresAt) {
		c = fallbackCounter{count: 0, expiresAt: now.Add(window)}
	}
	c.count++
	b.counters[fullKey] = c
	return c.count
}
