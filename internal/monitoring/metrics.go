package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeploysTotal counts deploy controller invocations by outcome
	// (created, updated, failed).
	DeploysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "deploys_total",
		Help:      "Total deploy operations by outcome",
	}, []string{"outcome"})

	// DeployDuration observes wall-clock time of deploy operations.
	DeployDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "portal",
		Name:      "deploy_duration_seconds",
		Help:      "Deploy operation duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	// BuildsTriggered counts accepted build requests.
	BuildsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "builds_triggered_total",
		Help:      "Total build jobs submitted",
	})

	// BuildsCompleted counts terminal build transitions by status.
	BuildsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "builds_completed_total",
		Help:      "Total builds reaching a terminal status",
	}, []string{"status"})

	// StatusQueries counts status aggregator reads by query surface.
	StatusQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "status_queries_total",
		Help:      "Total status aggregator queries",
	}, []string{"surface"})

	// WebhookEvents counts webhook intake outcomes.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "webhook_events_total",
		Help:      "Total webhook deliveries by outcome",
	}, []string{"outcome"})
)
