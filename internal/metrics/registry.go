// Package metrics wires the platform's Prometheus registry and the
// per-operation counters shared by every public operation (spec §6:
// "Prometheus-format exposition of counters, gauges, and histograms for
// every public operation and for circuit-breaker / fallback state").
// Subsystem packages (resilience, crypto, caep, logging) each register
// their own metric families against the registry
// this package constructs, following the same NewXMetrics(registry) /
// NoopXMetrics() convention.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewRegistry creates a fresh Prometheus registry for one process. A
// process constructs exactly one of these and threads it through every
// subsystem's NewXMetrics constructor.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
