package resilience

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-id/identity-core/internal/apperrors"
	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/domain"
)

func testCBConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		OpenTimeout:         20 * time.Millisecond,
		HalfOpenMaxInflight: 1,
	}
}

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", testCBConfig())
	fail := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	assert.Equal(t, domain.CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindCircuitOpen))
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cfg := testCBConfig()
	cb := NewCircuitBreaker("test", cfg)
	fail := func(ctx context.Context) error { return errors.New("boom") }
	succeed := func(ctx context.Context) error { return nil }

	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	require.Equal(t, domain.CircuitOpen, cb.State())

	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, domain.CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, domain.CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := testCBConfig()
	cb := NewCircuitBreaker("test", cfg)
	fail := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, domain.CircuitOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenInflightCapRejectsExtraProbes(t *testing.T) {
	cfg := testCBConfig()
	cfg.HalfOpenMaxInflight = 1
	cb := NewCircuitBreaker("test", cfg)
	fail := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()

	time.Sleep(5 * time.Millisecond)
	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindCircuitOpen))

	close(release)
	require.NoError(t, <-done)
}

// TestCircuitBreaker_PropertyOpensExactlyAtFailureThreshold is the spec §8
// breaker property test: across randomly generated failure thresholds, the
// breaker must stay closed for every failure short of the threshold and
// open on the failure that reaches it, with no off-by-one slack either
// direction.
func TestCircuitBreaker_PropertyOpensExactlyAtFailureThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(42424242))
	fail := func(ctx context.Context) error { return errors.New("boom") }

	const cases = 100
	for i := 0; i < cases; i++ {
		threshold := 1 + rng.Intn(20)
		cfg := config.CircuitBreakerConfig{
			FailureThreshold:    threshold,
			SuccessThreshold:    2,
			OpenTimeout:         20 * time.Millisecond,
			HalfOpenMaxInflight: 1,
		}
		cb := NewCircuitBreaker("prop", cfg)

		for n := 1; n < threshold; n++ {
			_ = cb.Execute(context.Background(), fail)
			assert.Equal(t, domain.CircuitClosed, cb.State(), "case %d: after %d/%d failures", i, n, threshold)
		}
		_ = cb.Execute(context.Background(), fail)
		assert.Equal(t, domain.CircuitOpen, cb.State(), "case %d: after reaching threshold %d", i, threshold)
	}
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	cb := NewCircuitBreaker("snap", testCBConfig())
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })

	snap := cb.Snapshot()
	assert.Equal(t, "snap", snap.Name)
	assert.Equal(t, 1, snap.Failures)
	require.NotNil(t, snap.LastFailureAt)
}
