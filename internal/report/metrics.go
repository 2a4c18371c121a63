package report

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are counters derived from session results, rebuilds and bundler runs.
type Metrics struct {
	registry *prometheus.Registry

	starts      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	readyTime   *prometheus.HistogramVec
	running     *prometheus.GaugeVec
	rebuilds    *prometheus.CounterVec
	bundleFiles *prometheus.CounterVec
}

var globalMetrics = NewMetrics()

// Global returns the process-wide metrics instance
func Global() *Metrics {
	return globalMetrics
}

// NewMetrics builds metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		starts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconnect_devserver_starts_total",
				Help: "Dev server start attempts",
			},
			[]string{"label"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconnect_devserver_failures_total",
				Help: "Dev server startup failures by kind",
			},
			[]string{"label", "kind"},
		),
		readyTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgeconnect_devserver_ready_seconds",
				Help:    "Time from spawn to readiness",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
			},
			[]string{"label"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "edgeconnect_devserver_running",
				Help: "Dev servers currently ready and serving",
			},
			[]string{"label"},
		),
		rebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconnect_asset_rebuilds_total",
				Help: "Asset rebuilds by result",
			},
			[]string{"result"},
		),
		bundleFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edgeconnect_bundler_files_total",
				Help: "Bundler file decisions by action",
			},
			[]string{"action"},
		),
	}

	m.registry.MustRegister(m.starts, m.failures, m.readyTime, m.running, m.rebuilds, m.bundleFiles)
	return m
}

// Registry exposes the underlying registry for HTTP export.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordStart counts a start attempt.
func (m *Metrics) RecordStart(label string) {
	m.starts.WithLabelValues(label).Inc()
}

// RecordReady observes startup latency and marks the server running.
func (m *Metrics) RecordReady(label string, after time.Duration) {
	m.readyTime.WithLabelValues(label).Observe(after.Seconds())
	m.running.WithLabelValues(label).Inc()
}

// RecordResult updates counters from a finished session. A session that had
// become ready is removed from the running gauge.
func (m *Metrics) RecordResult(r *Result) {
	if r.Outcome.Failed() {
		m.failures.WithLabelValues(r.Label, string(r.Outcome)).Inc()
		return
	}
	if r.Ready {
		m.running.WithLabelValues(r.Label).Dec()
	}
}

// RecordRebuild counts an asset rebuild.
func (m *Metrics) RecordRebuild(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.rebuilds.WithLabelValues(result).Inc()
}

// RecordBundle counts a bundler decision: copied, skipped, script_added, script_kept.
func (m *Metrics) RecordBundle(action string, n int) {
	if n <= 0 {
		return
	}
	m.bundleFiles.WithLabelValues(action).Add(float64(n))
}
