package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OperationMetrics records request counts, durations, and error kinds per
// operation name (spec §6). The Token Service and Edge Validator façades
// neither construct nor call it, so their operations are not recorded here.
type OperationMetrics struct {
	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	errorsTotal   *prometheus.CounterVec
}

// NewOperationMetrics creates and registers per-operation metrics against
// registry. If registry is nil a private registry is created, matching
// the NewXMetrics(registry)/NoopXMetrics() convention used throughout this
// module.
func NewOperationMetrics(registry *prometheus.Registry) *OperationMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_operation_requests_total",
			Help: "Total requests handled per public operation",
		},
		[]string{"operation", "outcome"},
	)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "identity_operation_duration_seconds",
			Help:    "Duration of public operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_operation_errors_total",
			Help: "Total errors per public operation, labeled by error kind",
		},
		[]string{"operation", "kind"},
	)

	_ = registry.Register(requestsTotal)
	_ = registry.Register(duration)
	_ = registry.Register(errorsTotal)

	return &OperationMetrics{
		requestsTotal: requestsTotal,
		duration:      duration,
		errorsTotal:   errorsTotal,
	}
}

// NoopOperationMetrics returns metrics backed by a private registry, for
// tests and components that don't care about observability.
func NoopOperationMetrics() *OperationMetrics {
	return NewOperationMetrics(prometheus.NewRegistry())
}

// RecordSuccess records a successful invocation of operation.
func (m *OperationMetrics) RecordSuccess(operation string, durationSeconds float64) {
	m.requestsTotal.WithLabelValues(operation, "success").Inc()
	m.duration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordError records a failed invocation of operation, labeled with the
// apperrors.Kind string that caused it.
func (m *OperationMetrics) RecordError(operation, kind string, durationSeconds float64) {
	m.requestsTotal.WithLabelValues(operation, "error").Inc()
	m.duration.WithLabelValues(operation).Observe(durationSeconds)
	m.errorsTotal.WithLabelValues(operation, kind).Inc()
}
