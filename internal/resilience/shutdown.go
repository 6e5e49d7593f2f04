package resilience

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lattice-id/identity-core/internal/config"
	"github.com/lattice-id/identity-core/internal/observability"
)

// ShutdownCoordinator counts the in-flight operations its callers register
// through IncrementActive/DecrementActive and refuses new registrations once
// shutdown has been initiated (spec §5: "graceful shutdown drains in-flight
// operations before terminating"). The Token Service and Edge Validator
// façades do not register their operations with it.
type ShutdownCoordinator struct {
	cfg            config.ShutdownConfig
	shuttingDown   atomic.Bool
	activeRequests atomic.Int64
	metrics        *ShutdownMetrics
	logger         observability.Logger
}

// ShutdownOption configures a ShutdownCoordinator.
type ShutdownOption func(*ShutdownCoordinator)

// WithShutdownMetrics attaches Prometheus metrics.
func WithShutdownMetrics(m *ShutdownMetrics) ShutdownOption {
	return func(s *ShutdownCoordinator) { s.metrics = m }
}

// WithShutdownLogger attaches a logger.
func WithShutdownLogger(l observability.Logger) ShutdownOption {
	return func(s *ShutdownCoordinator) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewShutdownCoordinator constructs a ShutdownCoordinator.
func NewShutdownCoordinator(cfg config.ShutdownConfig, opts ...ShutdownOption) *ShutdownCoordinator {
	s := &ShutdownCoordinator{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IncrementActive registers the start of an operation. It returns false,
// without registering, once shutdown has been initiated; the caller should
// reject the operation in that case.
func (s *ShutdownCoordinator) IncrementActive() bool {
	newCount := s.activeRequests.Add(1)

	if s.shuttingDown.Load() {
		s.activeRequests.Add(-1)
		if s.metrics != nil {
			s.metrics.RecordRejection()
		}
		if s.logger != nil {
			s.logger.Warn("operation rejected during shutdown", observability.Int64("active", s.activeRequests.Load()))
		}
		return false
	}

	if s.metrics != nil {
		s.metrics.SetActiveRequests(newCount)
	}
	return true
}

// DecrementActive registers the completion of an operation.
func (s *ShutdownCoordinator) DecrementActive() {
	newCount := s.activeRequests.Add(-1)
	if newCount < 0 {
		s.activeRequests.CompareAndSwap(newCount, 0)
		newCount = 0
	}
	if s.metrics != nil {
		s.metrics.SetActiveRequests(newCount)
	}
}

// ActiveCount returns the number of operations currently in flight.
func (s *ShutdownCoordinator) ActiveCount() int64 {
	return s.activeRequests.Load()
}

// IsShuttingDown reports whether shutdown has been initiated.
func (s *ShutdownCoordinator) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// InitiateShutdown starts the shutdown sequence. After this call,
// IncrementActive returns false for new operations.
func (s *ShutdownCoordinator) InitiateShutdown() {
	if s.shuttingDown.Swap(true) {
		return
	}
	if s.metrics != nil {
		s.metrics.SetShutdownInProgress(true)
	}
	if s.logger != nil {
		s.logger.Info("shutdown initiated",
			observability.Duration("timeout", s.cfg.Timeout),
			observability.Int64("active", s.activeRequests.Load()),
		)
	}
}

// WaitForDrain blocks until every in-flight operation completes or the
// configured timeout elapses, whichever comes first.
func (s *ShutdownCoordinator) WaitForDrain(ctx context.Context) error {
	start := time.Now()
	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.activeRequests.Load() <= 0 {
			if s.metrics != nil {
				s.metrics.RecordShutdownDuration(time.Since(start), "success")
			}
			return nil
		}

		select {
		case <-drainCtx.Done():
			remaining := s.activeRequests.Load()
			if s.metrics != nil {
				s.metrics.RecordShutdownDuration(time.Since(start), "timeout")
			}
			if s.logger != nil {
				s.logger.Warn("drain timeout, forcing shutdown", observability.Int64("remaining", remaining))
			}
			return fmt.Errorf("drain timeout: %d operations still active", remaining)
		case <-ticker.C:
		}
	}
}

// Config returns the coordinator's configuration.
func (s *ShutdownCoordinator) Config() config.ShutdownConfig {
	return s.cfg
}
