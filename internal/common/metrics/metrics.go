// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Scoring metrics
var (
	ScoreComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readiness_score_computations_total",
			Help: "Score breakdowns computed, by resulting band",
		},
		[]string{"band"},
	)

	ScoreDistribution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "readiness_score_points",
			Help:    "Distribution of final readiness scores",
			Buckets: []float64{300, 400, 475, 550, 615, 680, 740, 800, 850, 900},
		},
	)

	FatalFlagsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readiness_fatal_flags_triggered_total",
			Help: "Fatal flag rules that fired",
		},
		[]string{"rule_id", "severity"},
	)

	ScoringErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readiness_scoring_errors_total",
			Help: "Responses rejected during scoring",
		},
		[]string{"kpi_id"},
	)

	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readiness_lifecycle_transitions_total",
			Help: "Assessment status transitions",
		},
		[]string{"from", "to", "result"},
	)

	BreakdownCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readiness_breakdown_cache_requests_total",
			Help: "Draft breakdown cache lookups",
		},
		[]string{"result"},
	)

	RegistryReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readiness_registry_reloads_total",
			Help: "KPI registry reload attempts",
		},
		[]string{"result"},
	)
)
