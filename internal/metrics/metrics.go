// Package metrics exposes the operational counters and gauges of the intake
// service in the Prometheus exposition format.
//
// # Metric catalogue
//
//	fileswatcher_intake_total{outcome}    – counter: files handled by the processor, by outcome
//	fileswatcher_scanned_files_total      – counter: files found by initial directory scans
//	fileswatcher_overflow_events_total    – counter: overflow events reported by the watch service
//	fileswatcher_registered_directories   – gauge:   incoming directories currently watched
//	fileswatcher_running                  – gauge:   1 while the watch loop is running, 0 otherwise
//
// All methods are safe on a nil *Metrics so components can be built without
// instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fileswatcher"

// Outcome labels for IntakeOutcome beyond the move results.
const (
	OutcomeUnstable    = "unstable"
	OutcomeRecordError = "record_error"
)

// Metrics holds the collectors of one service instance. Each instance owns a
// private registry so several can coexist in one process (tests).
type Metrics struct {
	registry      *prometheus.Registry
	intakes       *prometheus.CounterVec
	scanned       prometheus.Counter
	overflows     prometheus.Counter
	registrations prometheus.Gauge
	running       prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		intakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_total",
			Help:      "Files handled by the intake processor, partitioned by outcome.",
		}, []string{"outcome"}),
		scanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanned_files_total",
			Help:      "Regular files found by initial directory scans.",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflow_events_total",
			Help:      "Overflow events reported by the watch service.",
		}),
		registrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_directories",
			Help:      "Incoming directories currently registered with the watch service.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while the watch loop is running, 0 otherwise.",
		}),
	}
	m.registry.MustRegister(m.intakes, m.scanned, m.overflows, m.registrations, m.running)
	return m
}

// IntakeOutcome counts one processed file under outcome.
func (m *Metrics) IntakeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.intakes.WithLabelValues(outcome).Inc()
}

// FileScanned counts one file found by an initial scan.
func (m *Metrics) FileScanned() {
	if m == nil {
		return
	}
	m.scanned.Inc()
}

// Overflow counts one overflow event.
func (m *Metrics) Overflow() {
	if m == nil {
		return
	}
	m.overflows.Inc()
}

// SetRegistrations records the number of registered directories.
func (m *Metrics) SetRegistrations(n int) {
	if m == nil {
		return
	}
	m.registrations.Set(float64(n))
}

// SetRunning records the loop state.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
