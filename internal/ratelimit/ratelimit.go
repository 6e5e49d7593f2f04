// Package ratelimit implements the adaptive per-client rate limiter (spec
// §4.10): a fixed-window counter whose effective limit scales with observed
// system load and with the client's trust level, and whose trust level
// itself adapts one step per request outcome.
package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
)

const namespace = "ratelimit_client"

// Store is the narrow persistence surface the limiter needs, the same
// shape internal/refresh.Store and internal/cache.Cache's Backend use.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
}

// LoadSource reports the current system load as a value the limiter
// compares against cfg.LoadThreshold (spec §4.10). 0 means unloaded, values
// above 1 indicate oversubscription; the scale is caller-defined.
type LoadSource func() float64

// Decision is the outcome of a rate-limit check (spec §4.10 "On request").
type Decision struct {
	Allowed       bool
	EffectiveLimit int
	RetryAfter    time.Duration
	Trust         domain.TrustLevel
}

// Limiter implements the adaptive rate limiter.
type Limiter struct {
	store Store
	load  LoadSource
	cfg   config.RateLimitConfig
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLoadSource overrides the default always-zero load source.
func WithLoadSource(load LoadSource) Option {
	return func(l *Limiter) { l.load = load }
}

// New constructs a Limiter backed by store.
func New(store Store, cfg config.RateLimitConfig, opts ...Option) *Limiter {
	l := &Limiter{store: store, cfg: cfg, load: func() float64 { return 0 }}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// baseLimit returns the configured request quota for a trust level (spec
// §4.10's base_limit, one per trust level rather than a single value scaled
// by a trust_factor table).
func (l *Limiter) baseLimit(trust domain.TrustLevel) int {
	switch trust {
	case domain.TrustLevelTrusted:
		return l.cfg.TrustedLimit
	case domain.TrustLevelNormal:
		return l.cfg.NormalLimit
	case domain.TrustLevelSuspicious:
		return l.cfg.SuspiciousLimit
	default:
		return l.cfg.UnknownLimit
	}
}

// effectiveLimit applies the load factor to a trust level's base limit,
// clamped to at least 1 (spec §4.10).
func (l *Limiter) effectiveLimit(trust domain.TrustLevel) int {
	limit := float64(l.baseLimit(trust))
	if l.load() > l.cfg.LoadThreshold {
		limit *= l.cfg.LoadReductionFactor
	}
	if limit < 1 {
		limit = 1
	}
	return int(limit)
}

// Check runs spec §4.10's "On request" algorithm for clientID: reset the
// window if expired, compute the effective limit, deny with a retry-after
// hint at the limit, else allow and increment.
func (l *Limiter) Check(ctx context.Context, clientID string, now time.Time) (Decision, error) {
	state, err := l.loadState(ctx, clientID, now)
	if err != nil {
		return Decision{}, err
	}

	if now.Sub(state.WindowStart) >= l.cfg.WindowSize {
		state.WindowStart = now
		state.RequestCount = 0
	}

	effective := l.effectiveLimit(state.Trust)
	if state.RequestCount >= effective {
		remaining := l.cfg.WindowSize - now.Sub(state.WindowStart)
		if remaining < 0 {
			remaining = 0
		}
		return Decision{Allowed: false, EffectiveLimit: effective, RetryAfter: remaining, Trust: state.Trust}, nil
	}

	state.RequestCount++
	state.LastRequest = now
	if err := l.persistState(ctx, state); err != nil {
		return Decision{}, err
	}

	return Decision{Allowed: true, EffectiveLimit: effective, Trust: state.Trust}, nil
}

// RecordOutcome adjusts clientID's trust level one step toward trusted on
// success or one step toward suspicious on failure (spec §4.10's trust
// transitions). Call this after the caller has determined whether the
// request that Check allowed ultimately succeeded or failed (e.g. auth
// outcome, abuse signal).
func (l *Limiter) RecordOutcome(ctx context.Context, clientID string, success bool, now time.Time) error {
	state, err := l.loadState(ctx, clientID, now)
	if err != nil {
		return err
	}
	if success {
		state.Trust = promote(state.Trust)
	} else {
		state.Trust = demote(state.Trust)
	}
	return l.persistState(ctx, state)
}

func promote(t domain.TrustLevel) domain.TrustLevel {
	switch t {
	case domain.TrustLevelUnknown:
		return domain.TrustLevelNormal
	case domain.TrustLevelNormal:
		return domain.TrustLevelTrusted
	case domain.TrustLevelSuspicious:
		return domain.TrustLevelUnknown
	default:
		return t
	}
}

func demote(t domain.TrustLevel) domain.TrustLevel {
	switch t {
	case domain.TrustLevelTrusted:
		return domain.TrustLevelNormal
	case domain.TrustLevelNormal:
		return domain.TrustLevelUnknown
	case domain.TrustLevelUnknown:
		return domain.TrustLevelSuspicious
	default:
		return t
	}
}

func (l *Limiter) loadState(ctx context.Context, clientID string, now time.Time) (domain.RateLimiterClientState, error) {
	raw, ok, err := l.store.Get(ctx, namespace, clientID)
	if err != nil {
		return domain.RateLimiterClientState{}, apperrors.Wrap(apperrors.KindUnavailable, "rate limiter state lookup failed", err)
	}
	if !ok {
		return domain.RateLimiterClientState{ClientID: clientID, WindowStart: now, Trust: domain.TrustLevelUnknown}, nil
	}
	var state domain.RateLimiterClientState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.RateLimiterClientState{}, apperrors.Wrap(apperrors.KindRateLimitInternal, "rate limiter state is corrupt", err)
	}
	return state, nil
}

func (l *Limiter) persistState(ctx context.Context, state domain.RateLimiterClientState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(apperrors.KindRateLimitInternal, "rate limiter state encoding failed", err)
	}
	if err := l.store.Set(ctx, namespace, state.ClientID, raw, l.cfg.WindowSize*2); err != nil {
		return apperrors.Wrap(apperrors.KindUnavailable, "rate limiter state store failed", err)
	}
	return nil
}
