package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
	"github.com/lattice-id/identity-core/internal/observability"
)

// CircuitBreaker guards an outbound dependency call (crypto client, JWKS
// fetch, redis backend, CAEP delivery) against cascading failures. Unlike a
// gobreaker-style breaker, success_threshold and half_open_max_inflight are
// independently configurable: the breaker can allow several concurrent
// half-open probes while still requiring more than one of them to succeed
// before closing.
type CircuitBreaker struct {
	name string
	cfg  config.CircuitBreakerConfig

	mu               sync.Mutex
	state            domain.CircuitState
	failures         int
	successes        int
	lastFailureAt    *time.Time
	openedAt         time.Time
	halfOpenInFlight int

	metrics *CircuitBreakerMetrics
	logger  observability.Logger
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithCircuitBreakerMetrics attaches Prometheus metrics.
func WithCircuitBreakerMetrics(m *CircuitBreakerMetrics) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.metrics = m }
}

// WithCircuitBreakerLogger attaches a logger.
func WithCircuitBreakerLogger(l observability.Logger) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if l != nil {
			cb.logger = l
		}
	}
}

// NewCircuitBreaker constructs a closed circuit breaker named for the
// dependency it guards.
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: domain.CircuitClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	if cb.metrics != nil {
		cb.metrics.SetState(name, domain.CircuitClosed)
	}
	return cb
}

// Execute runs fn with circuit breaker protection. It returns a
// KindCircuitOpen DomainError without calling fn if the circuit is open or
// the half-open inflight cap has been reached.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}

	start := time.Now()
	err := fn(ctx)
	cb.after(err)

	if cb.metrics != nil {
		cb.metrics.RecordOperationDuration(cb.name, outcomeLabel(err), time.Since(start).Seconds())
	}
	return err
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case domain.CircuitOpen:
		if time.Since(cb.openedAt) < cb.cfg.OpenTimeout {
			if cb.metrics != nil {
				cb.metrics.RecordOperationDuration(cb.name, "rejected", 0)
			}
			return apperrors.New(apperrors.KindCircuitOpen, "circuit breaker "+cb.name+" is open")
		}
		cb.transitionLocked(domain.CircuitHalfOpen)
		fallthrough
	case domain.CircuitHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxInflight {
			if cb.metrics != nil {
				cb.metrics.RecordOperationDuration(cb.name, "rejected", 0)
			}
			return apperrors.New(apperrors.KindCircuitOpen, "circuit breaker "+cb.name+" half-open probe slots exhausted")
		}
		cb.halfOpenInFlight++
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == domain.CircuitHalfOpen {
		cb.halfOpenInFlight--
	}

	if err != nil {
		cb.failures++
		cb.successes = 0
		now := time.Now()
		cb.lastFailureAt = &now

		switch cb.state {
		case domain.CircuitHalfOpen:
			cb.transitionLocked(domain.CircuitOpen)
		case domain.CircuitClosed:
			if cb.failures >= cb.cfg.FailureThreshold {
				cb.transitionLocked(domain.CircuitOpen)
			}
		}
		return
	}

	cb.successes++
	cb.failures = 0

	if cb.state == domain.CircuitHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
		cb.transitionLocked(domain.CircuitClosed)
	}
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to domain.CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case domain.CircuitOpen:
		cb.openedAt = time.Now()
		cb.halfOpenInFlight = 0
	case domain.CircuitClosed:
		cb.failures = 0
		cb.successes = 0
	case domain.CircuitHalfOpen:
		cb.successes = 0
		cb.halfOpenInFlight = 0
	}

	if cb.metrics != nil {
		cb.metrics.SetState(cb.name, to)
		cb.metrics.RecordTransition(cb.name, string(from), string(to))
	}
	if cb.logger != nil {
		cb.logger.Info("circuit breaker state changed",
			observability.String("name", cb.name),
			observability.String("from", string(from)),
			observability.String("to", string(to)),
		)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() domain.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the name this breaker was constructed with.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Snapshot returns the breaker's state as a domain.CircuitBreakerState, the
// shape the spec's health/introspection surface reports.
func (cb *CircuitBreaker) Snapshot() domain.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return domain.CircuitBreakerState{
		Name:             cb.name,
		State:            cb.state,
		Failures:         cb.failures,
		Successes:        cb.successes,
		LastFailureAt:    cb.lastFailureAt,
		HalfOpenInFlight: cb.halfOpenInFlight,
	}
}
