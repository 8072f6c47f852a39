package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_webhook_events_ingested_total",
		Help: "Total number of webhook events accepted and persisted.",
	})

	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_webhook_events_duplicate_total",
		Help: "Total number of webhook deliveries deduplicated by event id.",
	})

	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_webhook_events_rejected_total",
		Help: "Total number of webhook deliveries rejected for an invalid signature.",
	})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_webhook_events_processed_total",
		Help: "Total number of webhook events processed, labelled by event type and status.",
	}, []string{"event_type", "status"})

	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_reconcile_outcomes_total",
		Help: "Total number of reconciliation passes, labelled by outcome.",
	}, []string{"outcome"})

	MatchesByMethod = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payrecon_matches_total",
		Help: "Total number of auto-reconciled matches, labelled by matching method.",
	}, []string{"method"})

	RetrySweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payrecon_retry_sweeps_total",
		Help: "Total number of retry supervisor sweeps.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payrecon_job_queue_depth",
		Help: "Current number of pending jobs in the work queue.",
	})
)
