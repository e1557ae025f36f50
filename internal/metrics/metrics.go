package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished validation runs by final decision
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftcert",
		Name:      "runs_total",
		Help:      "Validation runs by outcome decision",
	}, []string{"decision"})

	// RunFailures counts runs terminated by a stage failure
	RunFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftcert",
		Name:      "run_failures_total",
		Help:      "Validation runs terminated by a stage failure",
	}, []string{"stage"})

	// StageDuration observes wall time per pipeline stage
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "driftcert",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage wall time",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	// ForgeRequestRetries counts retried forge API calls
	ForgeRequestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftcert",
		Name:      "forge_request_retries_total",
		Help:      "Forge API requests that needed a retry",
	})

	// LLMBatchFallbacks counts triage batches that fell back to rule-based
	// categorisation after the LLM response could not be parsed
	LLMBatchFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftcert",
		Name:      "llm_batch_fallbacks_total",
		Help:      "Triage batches categorised by the rule-based fallback",
	})

	// DeltasPerRun observes the drift-engine delta count per run
	DeltasPerRun = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "driftcert",
		Name:      "deltas_per_run",
		Help:      "Deltas emitted by the drift engine per run",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
