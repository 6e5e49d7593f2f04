package logging

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics reports log-shipper batch outcomes, grounded on
// caep.Metrics's labeled-counter-plus-gauge shape.
type Metrics struct {
	flushes   *prometheus.CounterVec
	batchSize prometheus.Histogram
	buffered  prometheus.Gauge
}

// NewMetrics registers log-shipper metrics with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_log_shipper_flushes_total",
			Help: "Total log batch flush attempts by outcome",
		}, []string{"outcome"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "identity_log_shipper_batch_size",
			Help:    "Number of records in each flushed batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200},
		}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "identity_log_shipper_buffered_records",
			Help: "Number of records currently buffered awaiting flush",
		}),
	}
	registry.MustRegister(m.flushes, m.batchSize, m.buffered)
	return m
}

// NoopMetrics returns metrics registered against a throwaway registry, for
// callers that don't want to wire a shared one (tests).
func NoopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) recordFlush(outcome string, size int) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(outcome).Inc()
	m.batchSize.Observe(float64(size))
}

func (m *Metrics) setBuffered(n int) {
	if m == nil {
		return
	}
	m.buffered.Set(float64(n))
}
