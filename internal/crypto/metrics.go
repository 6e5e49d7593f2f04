package crypto

import "github.com/prometheus/client_golang/prometheus"

// Metrics reports crypto client fallback activations: every time a remote
// call fails and the local path is used instead, whether the local AES-GCM
// key for encrypt or the local ECDSA key for sign and generate-key (spec
// §4.5).
type Metrics struct {
	fallbackActivations prometheus.Counter
}

// NewMetrics registers crypto client metrics with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		fallbackActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_crypto_fallback_activations_total",
			Help: "Total number of times a local fallback key was used in place of the remote crypto backend",
		}),
	}
	registry.MustRegister(m.fallbackActivations)
	return m
}

// NoopMetrics returns metrics registered against a throwaway registry, for
// callers that don't want to wire Prometheus.
func NoopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordFallbackActivation increments the fallback-activation counter.
func (m *Metrics) RecordFallbackActivation() {
	m.fallbackActivations.Inc()
}
