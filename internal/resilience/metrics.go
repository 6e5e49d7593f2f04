package resilience

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lattice-id/identity-core/internal/domain"
)

// CircuitBreakerMetrics reports circuit breaker state and transitions per
// breaker name (one per guarded dependency).
type CircuitBreakerMetrics struct {
	state             *prometheus.GaugeVec
	transitions       *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewCircuitBreakerMetrics registers circuit breaker metrics with registry.
func NewCircuitBreakerMetrics(registry *prometheus.Registry) *CircuitBreakerMetrics {
	m := &CircuitBreakerMetrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "identity_circuit_breaker_state",
			Help: "Current state of the circuit breaker (1=active, 0=inactive for each state label)",
		}, []string{"name", "state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		}, []string{"name", "from", "to"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_circuit_breaker_operation_duration_seconds",
			Help:    "Duration of operations executed through the circuit breaker",
			Buckets: prometheus.DefBuckets,
		}, []string{"name", "result"}),
	}
	registry.MustRegister(m.state, m.transitions, m.operationDuration)
	return m
}

// NoopCircuitBreakerMetrics returns metrics registered against a throwaway
// registry, for callers that don't want to wire a shared one (tests).
func NoopCircuitBreakerMetrics() *CircuitBreakerMetrics {
	return NewCircuitBreakerMetrics(prometheus.NewRegistry())
}

// SetState sets the active state gauge to 1 and every other state to 0.
func (m *CircuitBreakerMetrics) SetState(name string, state domain.CircuitState) {
	for _, s := range []domain.CircuitState{domain.CircuitClosed, domain.CircuitOpen, domain.CircuitHalfOpen} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.state.WithLabelValues(name, string(s)).Set(v)
	}
}

// RecordTransition increments the transition counter.
func (m *CircuitBreakerMetrics) RecordTransition(name, from, to string) {
	m.transitions.WithLabelValues(name, from, to).Inc()
}

// RecordOperationDuration records an operation's duration and outcome
// (success, failure, rejected).
func (m *CircuitBreakerMetrics) RecordOperationDuration(name, result string, durationSeconds float64) {
	m.operationDuration.WithLabelValues(name, result).Observe(durationSeconds)
}

// RetryMetrics reports retry attempt counts and outcomes per operation.
type RetryMetrics struct {
	attempts *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRetryMetrics registers retry metrics with registry.
func NewRetryMetrics(registry *prometheus.Registry) *RetryMetrics {
	m := &RetryMetrics{
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_retry_attempts",
			Help:    "Number of attempts taken by a retried operation",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
		}, []string{"name", "outcome"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_retry_outcomes_total",
			Help: "Total retried operations by final outcome",
		}, []string{"name", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_retry_duration_seconds",
			Help:    "Total wall-clock time spent retrying an operation, including backoff",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}
	registry.MustRegister(m.attempts, m.outcomes, m.duration)
	return m
}

// NoopRetryMetrics returns metrics registered against a throwaway registry.
func NoopRetryMetrics() *RetryMetrics {
	return NewRetryMetrics(prometheus.NewRegistry())
}

// RecordOperation records one completed (possibly retried) operation.
// outcome is one of: success, exhausted, cancelled.
func (m *RetryMetrics) RecordOperation(name, outcome string, attempts int, durationSeconds float64) {
	m.attempts.WithLabelValues(name, outcome).Observe(float64(attempts))
	m.outcomes.WithLabelValues(name, outcome).Inc()
	m.duration.WithLabelValues(name).Observe(durationSeconds)
}

// ShutdownMetrics reports graceful-shutdown drain behavior.
type ShutdownMetrics struct {
	activeRequests     prometheus.Gauge
	rejections         prometheus.Counter
	shutdownInProgress prometheus.Gauge
	drainDuration      *prometheus.HistogramVec
}

// NewShutdownMetrics registers shutdown metrics with registry.
func NewShutdownMetrics(registry *prometheus.Registry) *ShutdownMetrics {
	m := &ShutdownMetrics{
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "identity_shutdown_active_operations",
			Help: "Number of operations currently in flight",
		}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_shutdown_rejections_total",
			Help: "Total operations rejected because shutdown was in progress",
		}),
		shutdownInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "identity_shutdown_in_progress",
			Help: "1 if shutdown has been initiated, 0 otherwise",
		}),
		drainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_shutdown_drain_duration_seconds",
			Help:    "Time spent draining in-flight operations during shutdown",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
	}
	registry.MustRegister(m.activeRequests, m.rejections, m.shutdownInProgress, m.drainDuration)
	return m
}

// NoopShutdownMetrics returns metrics registered against a throwaway registry.
func NoopShutdownMetrics() *ShutdownMetrics {
	return NewShutdownMetrics(prometheus.NewRegistry())
}

// SetActiveRequests sets the current in-flight operation count.
func (m *ShutdownMetrics) SetActiveRequests(n int64) {
	m.activeRequests.Set(float64(n))
}

// RecordRejection increments the rejected-during-shutdown counter.
func (m *ShutdownMetrics) RecordRejection() {
	m.rejections.Inc()
}

// SetShutdownInProgress records whether shutdown is underway.
func (m *ShutdownMetrics) SetShutdownInProgress(inProgress bool) {
	v := 0.0
	if inProgress {
		v = 1.0
	}
	m.shutdownInProgress.Set(v)
}

// RecordShutdownDuration records how long the drain took and how it ended
// (success or timeout).
func (m *ShutdownMetrics) RecordShutdownDuration(d time.Duration, result string) {
	m.drainDuration.WithLabelValues(result).Observe(d.Seconds())
}
