package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_stage_outcomes_total",
			Help: "Pipeline stage results by outcome (success, fallback, error)",
		},
		[]string{"stage", "outcome"},
	)

	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_llm_calls_total",
			Help: "Chat completion calls by component and status",
		},
		[]string{"component", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transfer_llm_call_duration_seconds",
			Help:    "Duration of chat completion calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"component"},
	)

	JSONRecoveryStrategy = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_json_recovery_total",
			Help: "JSON recovery attempts by winning strategy (or none)",
		},
		[]string{"strategy"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transfer_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"outcome"},
	)

	RecommendationConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transfer_recommendation_confidence",
			Help:    "Confidence score of final recommendations",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	ReviewRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_review_requests_total",
			Help: "Human review requests by reason and delivery status",
		},
		[]string{"reason", "status"},
	)

	PipelineRunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transfer_pipeline_runs_active",
			Help: "Number of pipeline runs in flight",
		},
	)

	WorkerJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfer_worker_jobs_total",
			Help: "Workflow jobs handled by task type and result",
		},
		[]string{"task_type", "result"},
	)
)
