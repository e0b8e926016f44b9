// Package supervisor runs the supervisor phases of a method: agent selection
// (decompose the query and plan specialist agents) and result synthesis.
//
// The decomposition, planning and synthesis algorithms live behind the
// Supervisor interface. When no supervisor is configured, or it reports
// ErrUnavailable, the phase is skipped and the run continues.
package supervisor

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the supervisor cannot serve requests.
var ErrUnavailable = errors.New("supervisor unavailable")

// Complexity is the decomposition hint derived from missing information.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)

// InferComplexity maps the number of missing-information items to a hint:
// 0-1 simple, 2-3 standard, 4+ complex.
func InferComplexity(missing []string) Complexity {
	switch n := len(missing); {
	case n <= 1:
		return ComplexitySimple
	case n <= 3:
		return ComplexityStandard
	default:
		return ComplexityComplex
	}
}

// Subquery is one part of a decomposed query.
type Subquery struct {
	ID        string `json:"id"`
	Query     string `json:"query"`
	Rationale string `json:"rationale,omitempty"`
}

// Assignment pairs an agent with the subquery it should answer.
type Assignment struct {
	AgentType            string   `json:"agent_type"`
	SubqueryID           string   `json:"subquery_id,omitempty"`
	Query                string   `json:"query,omitempty"`
	Confidence           float64  `json:"confidence"`
	MatchingCapabilities []string `json:"matching_capabilities"`
}

// Plan is the supervisor's execution plan.
type Plan struct {
	Parallel   []Assignment `json:"parallel_assignments"`
	Sequential []Assignment `json:"sequential_assignments"`
}

// AgentResult is one agent's output as seen by synthesis.
type AgentResult struct {
	AgentType     string         `json:"agent_type"`
	SubqueryID    string         `json:"subquery_id,omitempty"`
	Status        string         `json:"status"`
	Summary       string         `json:"summary"`
	Confidence    float64        `json:"confidence"`
	Sources       []string       `json:"sources"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime float64        `json:"execution_time,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Conflict is a disagreement between agents found during synthesis.
type Conflict struct {
	Agents      []string `json:"agents"`
	Description string   `json:"description"`
}

// Synthesis is the unified answer built from agent results.
type Synthesis struct {
	Answer     string     `json:"answer"`
	Confidence float64    `json:"confidence"`
	Conflicts  []Conflict `json:"conflicts"`
}

// Supervisor decomposes queries, plans agents and synthesizes their results.
type Supervisor interface {
	Decompose(ctx context.Context, query string, userContext map[string]any, hint Complexity) ([]Subquery, error)
	PlanAgents(ctx context.Context, subqueries []Subquery, ragContext any) (*Plan, error)
	Synthesize(ctx context.Context, query string, results []AgentResult, ragContext any) (*Synthesis, error)
}
