package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PostTransitions counts lifecycle operations by operation and outcome.
	PostTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dhoka_post_transitions_total",
		Help: "Post lifecycle operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// IndexWrites counts search index writes by operation and outcome.
	IndexWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dhoka_index_writes_total",
		Help: "Search index writes by operation and outcome",
	}, []string{"operation", "outcome"})

	// Compensations counts saga compensation attempts by action and outcome.
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dhoka_compensations_total",
		Help: "Compensating index actions after a failed primary write",
	}, []string{"action", "outcome"})

	// RetryAttempts counts retried attempts by policy name.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dhoka_retry_attempts_total",
		Help: "Retried attempts by policy",
	}, []string{"policy"})

	// SweepPosts counts posts handled by the reconciliation sweep by outcome.
	SweepPosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dhoka_sweep_posts_total",
		Help: "Init posts handled by the reconciliation sweep",
	}, []string{"outcome"})

	// SweepDuration records how long a full sweep takes.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dhoka_sweep_duration_seconds",
		Help:    "Duration of reconciliation sweeps",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// RedisErrors counts Redis errors by key family (counter, cooldown,
	// ratelimit, posts).
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dhoka_redis_errors_total",
		Help: "Total number of Redis errors by key family",
	}, []string{"family"})

	// CounterFailures counts best-effort statistics updates that failed.
	CounterFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dhoka_counter_failures_total",
		Help: "Failed best-effort counter updates by label",
	}, []string{"label"})
)
