// Package metrics holds the Prometheus collectors shared by the store, the
// availability engine and the digest job.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentcal"

// Load outcomes.
const (
	LoadOK       = "ok"
	LoadDegraded = "degraded"
	LoadNotFound = "not_found"
	LoadError    = "error"
)

// Metrics bundles all collectors.
type Metrics struct {
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	Loads        *prometheus.CounterVec
	Queries      *prometheus.CounterVec
	BusyMinutes  *prometheus.GaugeVec
	BestBlockMin *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "cache_hits_total",
			Help:      "Busy interval lookups served from the per-agent cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "cache_misses_total",
			Help:      "Busy interval lookups that had to load a calendar.",
		}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "calendar_loads_total",
			Help:      "Calendar loads by outcome.",
		}, []string{"result"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "Availability queries by operation and outcome.",
		}, []string{"op", "result"}),
		BusyMinutes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "busy_minutes_next_week",
			Help:      "Busy minutes per agent in the coming 7 days.",
		}, []string{"agent"}),
		BestBlockMin: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "best_block_minutes",
			Help:      "Length of the best uninterrupted work block per agent, 0 if none.",
		}, []string{"agent"}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheHits, m.CacheMisses, m.Loads, m.Queries, m.BusyMinutes, m.BestBlockMin)
	}
	return m
}

func (m *Metrics) Hit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) Miss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) Load(result string) {
	if m != nil {
		m.Loads.WithLabelValues(result).Inc()
	}
}

// Query records one engine call. err == nil is "ok".
func (m *Metrics) Query(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Queries.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Digest(agentID string, busyMinutes, bestBlockMinutes float64) {
	if m == nil {
		return
	}
	m.BusyMinutes.WithLabelValues(agentID).Set(busyMinutes)
	m.BestBlockMin.WithLabelValues(agentID).Set(bestBlockMinutes)
}
