package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics exposes counters for the billing hot path.
type Metrics struct {
	Registry *prometheus.Registry

	ledgerOps          *prometheus.CounterVec
	classifierOutcomes *prometheus.CounterVec
	rendererRequests   *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: registry,
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renderbank",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by kind, reason and outcome.",
		}, []string{"op", "reason", "outcome"}),
		classifierOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renderbank",
			Subsystem: "classifier",
			Name:      "outcomes_total",
			Help:      "Job status payload classifications.",
		}, []string{"outcome", "source"}),
		rendererRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renderbank",
			Subsystem: "renderer",
			Name:      "requests_total",
			Help:      "Outbound renderer calls by operation and result.",
		}, []string{"op", "result"}),
	}

	registry.MustRegister(m.ledgerOps, m.classifierOutcomes, m.rendererRequests)
	return m
}

const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

func (m *Metrics) RecordLedgerOp(op, reason, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, reason, outcome).Inc()
}

func (m *Metrics) RecordClassification(outcome, source string) {
	if m == nil {
		return
	}
	m.classifierOutcomes.WithLabelValues(outcome, source).Inc()
}

func (m *Metrics) RecordRendererRequest(op, result string) {
	if m == nil {
		return
	}
	m.rendererRequests.WithLabelValues(op, result).Inc()
}
