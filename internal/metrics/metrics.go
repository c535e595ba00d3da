// Package metrics exposes Prometheus collectors for the batch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "garmax"

// Batch outcome labels.
const (
	OutcomeSubmitted = "submitted"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeDenied    = "budget_denied"
)

var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "pending_requests",
			Help:      "Requests waiting for the next batch",
		},
	)

	RequestsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "requests_enqueued_total",
			Help:      "Requests accepted by the aggregator",
		},
		[]string{"kind"},
	)

	DrainTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "drain_triggers_total",
			Help:      "Drain signals by trigger",
		},
		[]string{"trigger"},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "total",
			Help:      "Batches by outcome",
		},
		[]string{"outcome"},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "size",
			Help:      "Member requests per batch",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50},
		},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Time from submission to terminal state",
			Buckets:   []float64{5, 15, 30, 60, 90, 180, 300, 600},
		},
		[]string{"outcome"},
	)

	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Backend status polls by result",
		},
		[]string{"result"},
	)

	BackendFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "fallbacks_total",
			Help:      "Submissions moved to an alternate backend after a transient failure",
		},
		[]string{"from", "to"},
	)

	BudgetDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "decisions_total",
			Help:      "Reservation decisions",
		},
		[]string{"decision"},
	)

	BudgetSpend = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "budget",
			Name:      "spend_total",
			Help:      "Actual spend recorded into the ledger",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "connections",
			Help:      "Live subscribed connections",
		},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Status update deliveries by result",
		},
		[]string{"result"},
	)

	ReapedConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "reaped_connections_total",
			Help:      "Dead connections removed, by reaping path",
		},
		[]string{"path"},
	)

	LifecycleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handled_total",
			Help:      "Lifecycle event deliveries to handlers, by event type and result",
		},
		[]string{"type", "result"},
	)
)
