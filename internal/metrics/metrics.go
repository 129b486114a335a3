// Package metrics exposes pipeline counters in the Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector of the alert pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ingested       *prometheus.CounterVec
	ingestFailures *prometheus.CounterVec
	deduplicated   *prometheus.CounterVec
	ruleMatches    *prometheus.CounterVec
	actions        *prometheus.CounterVec
	ingestLatency  prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerthub_events_ingested_total",
				Help: "Alert events persisted, by source and status.",
			},
			[]string{"source", "status"},
		),
		ingestFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerthub_ingest_failures_total",
				Help: "Ingestion calls that rolled back.",
			},
			[]string{"source"},
		),
		deduplicated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerthub_events_deduplicated_total",
				Help: "Events whose rule evaluation was suppressed by the dedup window.",
			},
			[]string{"source"},
		),
		ruleMatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerthub_rule_matches_total",
				Help: "Rule matches, by rule name.",
			},
			[]string{"rule"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerthub_actions_dispatched_total",
				Help: "Action dispatch outcomes, by action type and result.",
			},
			[]string{"type", "result"},
		),
		ingestLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alerthub_ingest_duration_seconds",
				Help:    "Latency of the ingestion transaction.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.ingested, m.ingestFailures, m.deduplicated, m.ruleMatches, m.actions, m.ingestLatency)
	}
	return m
}

func (m *Metrics) EventIngested(source, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(source, status).Inc()
	m.ingestLatency.Observe(took.Seconds())
}

func (m *Metrics) IngestFailed(source string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) EventDeduplicated(source string) {
	if m == nil {
		return
	}
	m.deduplicated.WithLabelValues(source).Inc()
}

func (m *Metrics) RuleMatched(rule string) {
	if m == nil {
		return
	}
	m.ruleMatches.WithLabelValues(rule).Inc()
}

func (m *Metrics) ActionDispatched(actionType, result string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(actionType, result).Inc()
}
