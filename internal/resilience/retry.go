package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/observability"
)

// Retrier retries a fallible operation with exponential backoff, honoring
// context cancellation and the retry budget configured for the dependency
// it wraps (spec §4.2).
type Retrier struct {
	name    string
	cfg     config.RetryConfig
	metrics *RetryMetrics
	logger  observability.Logger
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetryMetrics attaches Prometheus metrics.
func WithRetryMetrics(m *RetryMetrics) RetrierOption {
	return func(r *Retrier) { r.metrics = m }
}

// WithRetryLogger attaches a logger.
func WithRetryLogger(l observability.Logger) RetrierOption {
	return func(r *Retrier) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRetrier constructs a Retrier named for the operation it wraps.
func NewRetrier(name string, cfg config.RetryConfig, opts ...RetrierOption) *Retrier {
	r := &Retrier{name: name, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// delay computes the nth backoff delay per spec §4.2:
// delay = min(initial_delay * multiplier^n, max_delay), then, if jitter is
// enabled, multiplied by a uniform random factor in [1, 1.25].
func (r *Retrier) delay(n uint64) time.Duration {
	d := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(n))
	if max := float64(r.cfg.MaxDelay); d > max {
		d = max
	}
	if r.cfg.Jitter {
		d *= 1 + 0.25*rand.Float64()
	}
	return time.Duration(d)
}

// backoff adapts r.delay into the go-retry Backoff interface, whose Next
// reports (delay, stop): it allows MaxRetries retries after the first
// attempt.
type backoff struct {
	r *Retrier
	n uint64
}

func (b *backoff) Next() (time.Duration, bool) {
	if b.n >= uint64(b.r.cfg.MaxRetries) {
		return 0, true
	}
	d := b.r.delay(b.n)
	b.n++
	return d, false
}

func (r *Retrier) newBackoff() retry.Backoff {
	return &backoff{r: r}
}

// Do runs fn, retrying on error until it succeeds, the retry budget is
// exhausted, or ctx is done. The last error is returned if all attempts
// fail; it is never wrapped so callers can inspect it with errors.Is/As.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	attempt := 0
	var lastErr error

	err := retry.Do(ctx, r.newBackoff(), func(ctx context.Context) error {
		attempt++
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.logger != nil {
			r.logger.Debug("operation failed, retrying",
				observability.String("name", r.name),
				observability.Int("attempt", attempt),
				observability.Err(lastErr),
			)
		}
		return retry.RetryableError(lastErr)
	})

	duration := time.Since(start).Seconds()
	switch {
	case err == nil:
		if r.metrics != nil {
			r.metrics.RecordOperation(r.name, "success", attempt, duration)
		}
		return nil
	case lastErr != nil:
		if r.metrics != nil {
			r.metrics.RecordOperation(r.name, "exhausted", attempt, duration)
		}
		if r.logger != nil {
			r.logger.Warn("retry budget exhausted",
				observability.String("name", r.name),
				observability.Int("attempts", attempt),
				observability.Err(lastErr),
			)
		}
		return lastErr
	default:
		if r.metrics != nil {
			r.metrics.RecordOperation(r.name, "cancelled", attempt, duration)
		}
		return err
	}
}

// Name returns the name this retrier was constructed with.
func (r *Retrier) Name() string {
	return r.name
}

// DoWithResult runs fn with retry logic and returns both its result and
// error, for operations that produce a value on success.
func DoWithResult[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}
