package caep

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics reports CAEP delivery outcomes and stream state, grounded on
// resilience.CircuitBreakerMetrics's per-dependency labeled-vector shape.
type Metrics struct {
	deliveries     *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	streamStatus   *prometheus.GaugeVec
	received       *prometheus.CounterVec
}

// NewMetrics registers CAEP metrics with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_caep_deliveries_total",
			Help: "Total CAEP SET delivery attempts per stream and outcome",
		}, []string{"stream_id", "delivery", "outcome"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_caep_delivery_duration_seconds",
			Help:    "Duration of CAEP SET delivery attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"stream_id"}),
		streamStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "identity_caep_stream_status",
			Help: "Current status of each registered CAEP stream (1=active state, 0=otherwise)",
		}, []string{"stream_id", "status"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_caep_received_total",
			Help: "Total SETs processed by the receiver, by event type and outcome",
		}, []string{"event_type", "outcome"}),
	}
	registry.MustRegister(m.deliveries, m.deliveryLatency, m.streamStatus, m.received)
	return m
}

// NoopMetrics returns metrics registered against a throwaway registry, for
// callers that don't want to wire a shared one (tests).
func NoopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) recordDelivery(streamID, delivery, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(streamID, delivery, outcome).Inc()
}

func (m *Metrics) observeDeliveryLatency(streamID string, seconds float64) {
	if m == nil {
		return
	}
	m.deliveryLatency.WithLabelValues(streamID).Observe(seconds)
}

func (m *Metrics) setStreamStatus(streamID, status string) {
	if m == nil {
		return
	}
	for _, s := range []string{"active", "paused", "failed", "disabled"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		m.streamStatus.WithLabelValues(streamID, s).Set(v)
	}
}

func (m *Metrics) recordReceived(eventType, outcome string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(eventType, outcome).Inc()
}
