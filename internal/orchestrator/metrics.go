package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veritas",
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Pipeline runs by method and terminal status.",
		},
		[]string{"method_id", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veritas",
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"method_id"},
	)

	phasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veritas",
			Subsystem: "orchestrator",
			Name:      "phases_total",
			Help:      "Executed phases by id, executor kind and status.",
		},
		[]string{"phase_id", "executor", "status"},
	)

	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veritas",
			Subsystem: "orchestrator",
			Name:      "phase_duration_seconds",
			Help:      "Wall time of phase executions.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase_id"},
	)

	ragFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "veritas",
			Subsystem: "orchestrator",
			Name:      "rag_degraded_total",
			Help:      "Runs that continued with the degraded retrieval placeholder.",
		},
	)
)
