package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/agents"
	"github.com/makr-code/VCC-Veritas-sub002/internal/llm"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/pipeline"
	"github.com/makr-code/VCC-Veritas-sub002/internal/rag"
	"github.com/makr-code/VCC-Veritas-sub002/internal/supervisor"
)

// ErrEmptyQuery is returned when a run is requested without a query.
var ErrEmptyQuery = errors.New("query cannot be empty")

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	// RunCompleted means every planned phase was attempted.
	RunCompleted RunStatus = "completed"

	// RunAborted means a critical phase failed and later phases were not run.
	RunAborted RunStatus = "aborted"

	// RunCancelled means the caller cancelled the run between phases.
	RunCancelled RunStatus = "cancelled"
)

// AnswerSource names where the final answer came from.
type AnswerSource string

const (
	SourceSynthesis  AnswerSource = "synthesis"
	SourceConclusion AnswerSource = "conclusion"
	SourceFallback   AnswerSource = "fallback"
)

// FallbackAnswer is returned when no phase produced an answer.
const FallbackAnswer = "Unable to produce a final answer for this query."

// Request is one query to run through the method.
type Request struct {
	Query    string         `json:"query"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is the aggregate outcome of one run.
type Result struct {
	RunID         string                  `json:"run_id"`
	MethodID      string                  `json:"method_id"`
	Query         string                  `json:"query"`
	Status        RunStatus               `json:"status"`
	Answer        string                  `json:"answer"`
	Confidence    float64                 `json:"confidence"`
	AnswerSource  AnswerSource            `json:"answer_source"`
	Phases        []*pipeline.PhaseResult `json:"phases"`
	SkippedPhases []string                `json:"skipped_phases,omitempty"`
	AbortedAt     string                  `json:"aborted_at,omitempty"`
	RAGResults    []rag.Passage           `json:"rag_results"`
	RAGDegraded   bool                    `json:"rag_degraded,omitempty"`
	Duration      time.Duration           `json:"-"`
}

// MarshalJSON adds the duration in seconds.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	phases := r.Phases
	if phases == nil {
		phases = []*pipeline.PhaseResult{}
	}
	passages := r.RAGResults
	if passages == nil {
		passages = []rag.Passage{}
	}
	p := plain(r)
	p.Phases = phases
	p.RAGResults = passages
	return json.Marshal(struct {
		plain
		Duration float64 `json:"duration"`
	}{plain: p, Duration: r.Duration.Seconds()})
}

// PhaseResult returns the result recorded for phaseID.
func (r *Result) PhaseResult(phaseID string) (*pipeline.PhaseResult, bool) {
	for _, pr := range r.Phases {
		if pr.PhaseID == phaseID {
			return pr, true
		}
	}
	return nil, false
}

// QueryEnricher rewrites the user query before retrieval.
type QueryEnricher interface {
	Enrich(ctx context.Context, query string, metadata map[string]any) (string, error)
}

// QueryEnricherFunc adapts a function to QueryEnricher.
type QueryEnricherFunc func(ctx context.Context, query string, metadata map[string]any) (string, error)

// Enrich implements QueryEnricher.
func (f QueryEnricherFunc) Enrich(ctx context.Context, query string, metadata map[string]any) (string, error) {
	return f(ctx, query, metadata)
}

// Deps are the external collaborators of a run. Every field is optional:
// a nil Generator fails standard phases, a nil Retriever yields no passages,
// a nil Supervisor skips supervisor phases and a nil Runner selects stand-in
// agent results.
type Deps struct {
	Generator  llm.Generator
	Prompts    method.PromptSource
	Retriever  rag.Retriever
	Supervisor supervisor.Supervisor
	Runner     agents.Runner
}
