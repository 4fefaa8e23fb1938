// Package metrics exposes prometheus collectors for the resilience layer.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serplexity"

// Call outcomes recorded per circuit.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeTimeout  = "timeout"
	OutcomeRejected = "rejected"
)

// Metrics holds every collector and the registry they are registered on.
type Metrics struct {
	registry *prometheus.Registry

	circuitState   *prometheus.GaugeVec
	circuitCalls   *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	activeJobs     prometheus.Gauge
	budgetBreaches *prometheus.CounterVec
	componentState *prometheus.GaugeVec
	cycleDuration  prometheus.Histogram
	cycles         *prometheus.CounterVec
	openAlerts     prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit state (0=closed, 1=half_open, 2=open)",
		}, []string{"circuit"}),
		circuitCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_calls_total",
			Help:      "Protected calls by circuit and outcome",
		}, []string{"circuit", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_fallbacks_total",
			Help:      "Degraded responses returned instead of circuit-open errors",
		}, []string{"category"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_active_jobs",
			Help:      "Jobs currently under resource monitoring",
		}),
		budgetBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_budget_breaches_total",
			Help:      "Resource threshold crossings by level",
		}, []string{"level"}),
		componentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_component_status",
			Help:      "Component status (0=healthy, 1=degraded, 2=unhealthy)",
		}, []string{"component"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_cycle_duration_seconds",
			Help:      "Duration of health aggregation cycles",
			Buckets:   prometheus.DefBuckets,
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_cycles_total",
			Help:      "Health aggregation cycles by persistence result",
		}, []string{"result"}),
		openAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_open_alerts",
			Help:      "Unacknowledged alerts in the last snapshot",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.circuitState,
		m.circuitCalls,
		m.fallbacks,
		m.activeJobs,
		m.budgetBreaches,
		m.componentState,
		m.cycleDuration,
		m.cycles,
		m.openAlerts,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetCircuitState records the numeric state of a circuit.
func (m *Metrics) SetCircuitState(circuit string, value float64) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(circuit).Set(value)
}

// ObserveCall counts a protected call.
func (m *Metrics) ObserveCall(circuit, outcome string) {
	if m == nil {
		return
	}
	m.circuitCalls.WithLabelValues(circuit, outcome).Inc()
}

// ObserveFallback counts a fallback envelope.
func (m *Metrics) ObserveFallback(category string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(category).Inc()
}

// SetActiveJobs records the number of monitored jobs.
func (m *Metrics) SetActiveJobs(n int) {
	if m == nil {
		return
	}
	m.activeJobs.Set(float64(n))
}

// ObserveBreach counts a warning or error level threshold crossing.
func (m *Metrics) ObserveBreach(level string) {
	if m == nil {
		return
	}
	m.budgetBreaches.WithLabelValues(level).Inc()
}

// SetComponentStatus records a component's severity.
func (m *Metrics) SetComponentStatus(component string, severity int) {
	if m == nil {
		return
	}
	m.componentState.WithLabelValues(component).Set(float64(severity))
}

// ObserveCycle records one aggregation cycle.
func (m *Metrics) ObserveCycle(d time.Duration, result string, openAlerts int) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.cycles.WithLabelValues(result).Inc()
	m.openAlerts.Set(float64(openAlerts))
}
