package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptloop_backend_calls_total",
		Help: "Generation backend calls by provider, role and outcome",
	}, []string{"provider", "role", "outcome"})

	BackendCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptloop_backend_call_duration_seconds",
		Help:    "Generation backend call latency",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider", "role"})

	JudgeCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptloop_judge_cache_lookups_total",
		Help: "Judge cache lookups by tier and result",
	}, []string{"tier", "result"})

	JudgeCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptloop_judge_cache_evictions_total",
		Help: "Entries evicted from the in-memory judge cache",
	})

	JudgeCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promptloop_judge_cache_entries",
		Help: "Entries currently held in the in-memory judge cache",
	})

	EntriesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptloop_entries_evaluated_total",
		Help: "Dataset entries evaluated, by outcome",
	}, []string{"outcome"})

	RunOverallScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "promptloop_run_overall_score",
		Help: "Primary score of the most recent run per template",
	}, []string{"template", "run_type"})

	ImprovementDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptloop_improvement_decisions_total",
		Help: "Improvement loop decisions",
	}, []string{"decision"})
)

// Outcome labels for BackendCallsTotal.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)
