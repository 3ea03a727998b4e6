// Package metrics exposes sandbox counters through a dedicated prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hyprsandbox"

// Metrics holds every collector the sandbox updates
type Metrics struct {
	registry *prometheus.Registry

	commands         *prometheus.CounterVec
	scans            *prometheus.CounterVec
	findings         *prometheus.CounterVec
	loads            *prometheus.CounterVec
	violations       *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	extensionsLoaded prometheus.Gauge
	invocations      *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Command sanitizer decisions by outcome.",
		}, []string{"outcome"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Static scans by verdict.",
		}, []string{"verdict"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_findings_total",
			Help:      "Static scan findings by rule and severity.",
		}, []string{"rule", "severity"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Extension load attempts by outcome.",
		}, []string{"outcome"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Sandbox violations by kind.",
		}, []string{"kind"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Per-extension event deliveries by outcome.",
		}, []string{"outcome"}),
		extensionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extensions_loaded",
			Help:      "Extensions currently loaded.",
		}),
		invocations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock time of sandboxed calls.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		}, []string{"phase"}),
	}

	m.registry.MustRegister(
		m.commands,
		m.scans,
		m.findings,
		m.loads,
		m.violations,
		m.dispatches,
		m.extensionsLoaded,
		m.invocations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CommandDecision counts one sanitizer decision
func (m *Metrics) CommandDecision(outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(outcome).Inc()
}

// Scan counts one scan verdict
func (m *Metrics) Scan(accepted bool) {
	if m == nil {
		return
	}
	verdict := "rejected"
	if accepted {
		verdict = "accepted"
	}
	m.scans.WithLabelValues(verdict).Inc()
}

// Finding counts one static scan finding
func (m *Metrics) Finding(rule, severity string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(rule, severity).Inc()
}

// Load counts one load attempt
func (m *Metrics) Load(outcome string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
}

// Violation counts one sandbox violation
func (m *Metrics) Violation(kind string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Inc()
}

// Dispatch counts one event delivery
func (m *Metrics) Dispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

// SetLoaded records the number of loaded extensions
func (m *Metrics) SetLoaded(n int) {
	if m == nil {
		return
	}
	m.extensionsLoaded.Set(float64(n))
}

// ObserveInvocation records how long a sandboxed call took
func (m *Metrics) ObserveInvocation(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(phase).Observe(d.Seconds())
}
