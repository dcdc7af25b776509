package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanvault_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// SubmissionsTotal counts intake attempts by category and outcome.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanvault_submissions_total",
		Help: "Total number of submissions received",
	}, []string{"category", "outcome"})

	// ModerationDecisions counts review decisions by decision and outcome.
	ModerationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanvault_moderation_decisions_total",
		Help: "Total number of moderation decisions",
	}, []string{"decision", "outcome"})

	// ObjectStoreLatency records durable store call latency by operation.
	ObjectStoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanvault_object_store_latency_seconds",
		Help:    "Durable object store call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	// RetentionDeleted counts submissions removed by retention, per rule.
	RetentionDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanvault_retention_deleted_total",
		Help: "Total number of rejected submissions removed by retention",
	}, []string{"rule"})

	// RetentionItemFailures counts per-item cleanup failures by stage (file, row).
	RetentionItemFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanvault_retention_item_failures_total",
		Help: "Total number of per-item retention failures",
	}, []string{"stage"})

	// RetentionRuns counts cleanup runs by trigger and outcome.
	RetentionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanvault_retention_runs_total",
		Help: "Total number of retention cleanup runs",
	}, []string{"trigger", "outcome"})
)

// ObserveObjectStore records one durable store call started at start.
func ObserveObjectStore(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ObjectStoreLatency.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
