package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_attempts_started_total",
			Help: "Total number of exam attempts created",
		},
	)

	AttemptsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_attempts_submitted_total",
			Help: "Total number of attempts submitted, by submit reason",
		},
		[]string{"reason"},
	)

	AttemptScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proctor_attempt_score_ratio",
			Help:    "Score as a fraction of the maximum score at submission",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	GradingConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_grading_conflicts_total",
			Help: "Manual grading patches rejected for a stale grading version",
		},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_deadline_sweep_runs_total",
			Help: "Deadline sweep ticks, by outcome",
		},
		[]string{"outcome"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proctor_deadline_sweep_duration_seconds",
			Help:    "Deadline sweep tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_sessions_terminated_total",
			Help: "Sessions auto-terminated by the violation engine, by reason",
		},
		[]string{"reason"},
	)

	ViolationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_violations_recorded_total",
			Help: "Violation events recorded, by severity and source",
		},
		[]string{"severity", "source"},
	)

	ViolationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_violations_ingested_total",
			Help: "Violation reports drained from the ingest queue, by outcome",
		},
		[]string{"outcome"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
