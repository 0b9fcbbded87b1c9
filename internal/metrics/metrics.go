// Package metrics holds the Prometheus collectors for collection sync.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Write outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeStale  = "stale"
)

// Metrics groups the sync counters.
type Metrics struct {
	RemoteWrites *prometheus.CounterVec
	Coalesced    *prometheus.CounterVec
	Loads        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RemoteWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartsync",
			Name:      "remote_writes_total",
			Help:      "Remote collection writes by collection, operation and outcome.",
		}, []string{"collection", "op", "outcome"}),
		Coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartsync",
			Name:      "coalesced_writes_total",
			Help:      "Queued remote writes dropped because a later write superseded them.",
		}, []string{"collection"}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartsync",
			Name:      "loads_total",
			Help:      "Completed load-and-merge runs by collection and data source.",
		}, []string{"collection", "source"}),
	}
	if reg != nil {
		reg.MustRegister(m.RemoteWrites, m.Coalesced, m.Loads)
	}
	return m
}

// ObserveWrite counts one remote write.
func (m *Metrics) ObserveWrite(collection, op, outcome string) {
	if m == nil {
		return
	}
	m.RemoteWrites.WithLabelValues(collection, op, outcome).Inc()
}

// ObserveCoalesced counts writes dropped by coalescing.
func (m *Metrics) ObserveCoalesced(collection string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Coalesced.WithLabelValues(collection).Add(float64(n))
}

// ObserveLoad counts one completed load.
func (m *Metrics) ObserveLoad(collection, source string) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(collection, source).Inc()
}
