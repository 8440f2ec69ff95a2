// Package metrics exposes Prometheus instruments for the pipeline: job
// outcomes and durations per stage, reconciliation repairs, guard failures,
// and terminal process counts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// Metrics holds the registered collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobsInFlight     *prometheus.GaugeVec
	reconcileRepairs *prometheus.CounterVec
	guardFailures    *prometheus.CounterVec
	duplicateEvents  *prometheus.CounterVec
	processesTotal   *prometheus.CounterVec
}

// New creates and registers the collectors on reg. When reg is nil a
// private registry is used.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{gatherer: reg}

	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Stage jobs processed by outcome.",
		},
		[]string{"stage", "outcome"},
	)
	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of stage job executions.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"stage", "tier"},
	)
	m.jobsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Stage jobs currently executing.",
		},
		[]string{"tier"},
	)
	m.reconcileRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_actions_total",
			Help:      "Actions taken by the reconciliation sweep.",
		},
		[]string{"action"},
	)
	m.guardFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_failures_total",
			Help:      "Completion attempts refused by invariant checks.",
		},
		[]string{"operation"},
	)
	m.duplicateEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_events_total",
			Help:      "Completion events discarded because the stage already advanced.",
		},
		[]string{"stage"},
	)
	m.processesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_total",
			Help:      "Processes that reached a terminal status.",
		},
		[]string{"status"},
	)

	reg.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.jobsInFlight,
		m.reconcileRepairs,
		m.guardFailures,
		m.duplicateEvents,
		m.processesTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// JobFinished records the outcome and duration of one job execution.
func (m *Metrics) JobFinished(stage, tier, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(stage, outcome).Inc()
	m.jobDuration.WithLabelValues(stage, tier).Observe(elapsed.Seconds())
}

// JobStarted increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) JobStarted(tier string) func() {
	if m == nil {
		return func() {}
	}
	g := m.jobsInFlight.WithLabelValues(tier)
	g.Inc()
	return g.Dec
}

// Reconciled records one reconciliation action.
func (m *Metrics) Reconciled(action string) {
	if m == nil {
		return
	}
	m.reconcileRepairs.WithLabelValues(action).Inc()
}

// GuardFailure records a refused completion.
func (m *Metrics) GuardFailure(operation string) {
	if m == nil {
		return
	}
	m.guardFailures.WithLabelValues(operation).Inc()
}

// DuplicateEvent records a discarded redelivery.
func (m *Metrics) DuplicateEvent(stage string) {
	if m == nil {
		return
	}
	m.duplicateEvents.WithLabelValues(stage).Inc()
}

// ProcessTerminal records a process reaching completed or failed.
func (m *Metrics) ProcessTerminal(status string) {
	if m == nil {
		return
	}
	m.processesTotal.WithLabelValues(status).Inc()
}
