// Package jwks implements the JWKS single-flight cache (spec §4.6): a
// kid → decoding-key map, stamped with its fetch time, refreshed via at
// most one in-flight fetch regardless of how many callers ask for a
// missing or stale key concurrently.
package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
	"github.com/lattice-id/identity-core/internal/observability"
	"github.com/lattice-id/identity-core/internal/resilience"
)

// Fetcher retrieves the current JWKS document for an issuer. Implementations
// typically perform an HTTPS GET against the issuer's jwks_uri, guarded by
// the caller-supplied timeout in ctx.
type Fetcher interface {
	FetchJWKS(ctx context.Context, issuer string) (*jose.JSONWebKeySet, error)
}

// Cache holds the decoding keys for one issuer, refreshed single-flight.
type Cache struct {
	issuer  string
	ttl     time.Duration
	fetcher Fetcher
	breaker *resilience.CircuitBreaker
	retrier *resilience.Retrier
	logger  observability.Logger

	mu    sync.RWMutex
	entry domain.JWKCacheEntry

	flightMu sync.Mutex
	inFlight chan struct{}
	flightErr error
}

// Option configures a Cache.
type Option func(*Cache)

// WithBreaker overrides the circuit breaker guarding the fetch path.
func WithBreaker(cb *resilience.CircuitBreaker) Option { return func(c *Cache) { c.breaker = cb } }

// WithRetrier overrides the retry policy guarding the fetch path.
func WithRetrier(r *resilience.Retrier) Option { return func(c *Cache) { c.retrier = r } }

// WithLogger attaches a logger.
func WithLogger(l observability.Logger) Option { return func(c *Cache) { c.logger = l } }

// New constructs a Cache for issuer, fetching via fetcher.
func New(issuer string, fetcher Fetcher, cfg config.JWKSConfig, opts ...Option) *Cache {
	c := &Cache{
		issuer:  issuer,
		ttl:     cfg.TTL,
		fetcher: fetcher,
		breaker: resilience.NewCircuitBreaker("jwks-"+issuer, config.CircuitBreakerConfig{
			FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 30 * time.Second, HalfOpenMaxInflight: 1,
		}),
		logger: observability.NewNopLoggerInterface(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetKey returns the decoding key for kid, refreshing the cache if it is
// stale or missing kid (spec §4.6 steps 1-3).
func (c *Cache) GetKey(ctx context.Context, kid string) (any, error) {
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, apperrors.New(apperrors.KindKeyNotFound, "key not found after refresh")
}

func (c *Cache) lookup(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry.Stale(time.Now(), c.ttl) {
		return nil, false
	}
	key, ok := c.entry.Keys[kid]
	return key, ok
}

// refresh performs a single-flight fetch: a caller that finds the flight
// slot empty installs it and fetches; callers that find it populated wait
// on the same channel and share its result (spec §4.6: "a mutex-guarded
// slot holding a shared, clonable future").
func (c *Cache) refresh(ctx context.Context) error {
	c.flightMu.Lock()
	if c.inFlight != nil {
		ch := c.inFlight
		c.flightMu.Unlock()
		select {
		case <-ch:
			return c.flightErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ch := make(chan struct{})
	c.inFlight = ch
	c.flightMu.Unlock()

	err := c.doFetch(ctx)

	c.flightMu.Lock()
	c.flightErr = err
	c.inFlight = nil
	c.flightMu.Unlock()
	close(ch)

	return err
}

func (c *Cache) doFetch(ctx context.Context) error {
	var set *jose.JSONWebKeySet
	do := func(ctx context.Context) error {
		var err error
		set, err = c.fetcher.FetchJWKS(ctx, c.issuer)
		return err
	}
	run := do
	if c.retrier != nil {
		run = func(ctx context.Context) error { return c.retrier.Do(ctx, do) }
	}
	if err := c.breaker.Execute(ctx, run); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "jwks fetch failed", err)
	}

	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		switch key := jwk.Key.(type) {
		case *rsa.PublicKey:
			keys[jwk.KeyID] = key
		case *ecdsa.PublicKey:
			keys[jwk.KeyID] = key
		case []byte:
			// test-only symmetric fallback (spec §4.6).
			keys[jwk.KeyID] = key
		default:
			c.logger.Warn("skipping jwk of unsupported type", observability.Field{Key: "kid", Value: jwk.KeyID})
		}
	}

	c.mu.Lock()
	c.entry = domain.JWKCacheEntry{Keys: keys, FetchedAt: time.Now()}
	c.mu.Unlock()
	return nil
}
