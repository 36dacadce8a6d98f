// Package metrics exposes Prometheus collectors for store setup.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors recorded by the stack.
type Metrics struct {
	Registry *prometheus.Registry

	decisions    *prometheus.CounterVec
	erases       *prometheus.CounterVec
	openDuration *prometheus.HistogramVec
}

// New registers a fresh set of collectors on their own registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goobstore_migration_decisions_total",
			Help: "Migration policy decisions by action",
		}, []string{"kind", "action"}),
		erases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goobstore_erase_total",
			Help: "Store erase attempts by result",
		}, []string{"kind", "result"}),
		openDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goobstore_open_seconds",
			Help:    "Time to add a store, including any migration or recreation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "outcome"}),
	}
	m.Registry.MustRegister(m.decisions, m.erases, m.openDuration)
	return m
}

// ObserveDecision counts a resolved decision. Safe on a nil receiver.
func (m *Metrics) ObserveDecision(kind, action string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(kind, action).Inc()
}

// ObserveErase counts an erase outcome: ok, prepare_failed, enumeration_failed or partial_delete.
func (m *Metrics) ObserveErase(kind, result string) {
	if m == nil {
		return
	}
	m.erases.WithLabelValues(kind, result).Inc()
}

// ObserveOpen records how long adding a store took.
func (m *Metrics) ObserveOpen(kind string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.openDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

// Decisions exposes the decision counter for tests and exporters.
func (m *Metrics) Decisions() *prometheus.CounterVec {
	return m.decisions
}

// Erases exposes the erase counter.
func (m *Metrics) Erases() *prometheus.CounterVec {
	return m.erases
}
