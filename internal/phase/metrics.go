package phase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veritas",
			Subsystem: "phase",
			Name:      "llm_attempts_total",
			Help:      "LLM call attempts made by standard phases",
		},
		[]string{"phase_id", "result"},
	)

	parseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veritas",
			Subsystem: "phase",
			Name:      "parse_outcomes_total",
			Help:      "Outcome of parsing and validating phase output",
		},
		[]string{"phase_id", "outcome"},
	)
)
