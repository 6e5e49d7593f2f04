package domain

import "time"

// CircuitState is a state of the circuit breaker state machine (spec §4.1).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreakerState is the observable snapshot of a circuit breaker
// (spec §3 "Circuit Breaker State").
type CircuitBreakerState struct {
	Name              string
	State             CircuitState
	Failures          int
	Successes         int
	LastFailureAt     *time.Time
	HalfOpenInFlight  int
}

// CacheEntry is a namespaced encrypted cache record (spec §3 "Cache Entry").
type CacheEntry struct {
	Namespace string
	Key       string
	Artifact  EncryptedArtifact
	ExpiresAt time.Time
}

// Expired reports whether the entry is no longer valid at the given time.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// JWKCacheEntry is a cached JWKS document for one issuer (spec §3
// "JWK Cache Entry"): kid → decoding key, stamped with its fetch time.
// Keys is `any` here (crypto.PublicKey in practice) so this package stays
// free of the jwks package's RSA/EC decoding concerns.
type JWKCacheEntry struct {
	Keys      map[string]any
	FetchedAt time.Time
}

// Stale reports whether the cache age has reached ttl and should be
// refetched (spec §4.6: staleness = now - fetched_at >= ttl).
func (e JWKCacheEntry) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) >= ttl
}

// TrustLevel is a caller classification used to scale rate-limit quotas
// (spec §4.10, §3).
type TrustLevel string

const (
	TrustLevelUnknown    TrustLevel = "unknown"
	TrustLevelSuspicious TrustLevel = "suspicious"
	TrustLevelNormal     TrustLevel = "normal"
	TrustLevelTrusted    TrustLevel = "trusted"
)

// RateLimiterClientState is the fixed-window counter state tracked per
// rate-limited client (spec §3 "Rate Limiter Client State").
type RateLimiterClientState struct {
	ClientID     string
	RequestCount int
	WindowStart  time.Time
	Trust        TrustLevel
	LastRequest  time.Time
}
