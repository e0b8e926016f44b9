// Package pipeline holds the per-run state threaded through phases and the
// result each phase produces.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
)

var (
	// ErrPhaseRecorded is returned when a phase id is merged into a run twice.
	ErrPhaseRecorded = errors.New("phase output already recorded")

	// ErrRAGResultsSet is returned when RAG results are assigned twice.
	ErrRAGResultsSet = errors.New("rag results already set")
)

// Status is the outcome of one phase execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Adapter executes one phase kind against a run.
type Adapter interface {
	Execute(ctx context.Context, phase *method.Phase, rc *RunContext) (*PhaseResult, error)
}

// RunContext is the state of one pipeline run. It is owned by the run's goroutine;
// only the agent fan-out runs concurrently, and it merges after joining.
type RunContext struct {
	RunID     string
	UserQuery string
	Metadata  map[string]any

	ragResults any
	ragSet     bool

	previous map[string]map[string]any
	order    []string
}

// NewRunContext creates a run with a fresh id.
func NewRunContext(query string, metadata map[string]any) *RunContext {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &RunContext{
		RunID:     uuid.NewString(),
		UserQuery: query,
		Metadata:  metadata,
		previous:  make(map[string]map[string]any),
	}
}

// SetRAGResults stores the retrieval output. It may be called once.
func (rc *RunContext) SetRAGResults(v any) error {
	if rc.ragSet {
		return ErrRAGResultsSet
	}
	rc.ragResults = v
	rc.ragSet = true
	return nil
}

// RAGResults returns the retrieval output, or nil before it is set.
func (rc *RunContext) RAGResults() any {
	return rc.ragResults
}

// Record appends a phase output. Earlier entries are never replaced.
func (rc *RunContext) Record(phaseID string, output map[string]any) error {
	if _, ok := rc.previous[phaseID]; ok {
		return fmt.Errorf("%w: %s", ErrPhaseRecorded, phaseID)
	}
	if output == nil {
		output = map[string]any{}
	}
	rc.previous[phaseID] = output
	rc.order = append(rc.order, phaseID)
	return nil
}

// Phase returns a recorded phase output.
func (rc *RunContext) Phase(phaseID string) (map[string]any, bool) {
	out, ok := rc.previous[phaseID]
	return out, ok
}

// PhaseIDs returns recorded phase ids in completion order.
func (rc *RunContext) PhaseIDs() []string {
	return append([]string(nil), rc.order...)
}

// PreviousPhases returns a shallow copy of the recorded outputs.
func (rc *RunContext) PreviousPhases() map[string]map[string]any {
	out := make(map[string]map[string]any, len(rc.previous))
	for k, v := range rc.previous {
		out[k] = v
	}
	return out
}

// PhaseResult is the immutable outcome of one phase execution.
type PhaseResult struct {
	PhaseID          string
	Status           Status
	Output           map[string]any
	Confidence       float64
	ExecutionTime    time.Duration
	RetryCount       int
	ValidationErrors []string
	RawOutput        string
}

// MarshalJSON renders ExecutionTime in seconds.
func (r PhaseResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PhaseID          string         `json:"phase_id"`
		Status           Status         `json:"status"`
		Output           map[string]any `json:"output"`
		Confidence       float64        `json:"confidence"`
		ExecutionTime    float64        `json:"execution_time"`
		RetryCount       int            `json:"retry_count"`
		ValidationErrors []string       `json:"validation_errors"`
		RawOutput        string         `json:"raw_output,omitempty"`
	}{
		PhaseID:          r.PhaseID,
		Status:           r.Status,
		Output:           r.Output,
		Confidence:       r.Confidence,
		ExecutionTime:    r.ExecutionTime.Seconds(),
		RetryCount:       r.RetryCount,
		ValidationErrors: nonNil(r.ValidationErrors),
		RawOutput:        r.RawOutput,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Failed builds the result recorded when an adapter returns an error or panics.
func Failed(phaseID string, err error, elapsed time.Duration) *PhaseResult {
	return &PhaseResult{
		PhaseID:       phaseID,
		Status:        StatusFailed,
		Output:        map[string]any{"status": string(StatusFailed), "error": err.Error()},
		ExecutionTime: elapsed,
	}
}

// Skipped builds a skipped result carrying reason.
func Skipped(phaseID, reason string) *PhaseResult {
	return &PhaseResult{
		PhaseID: phaseID,
		Status:  StatusSkipped,
		Output:  map[string]any{"status": string(StatusSkipped), "reason": reason},
	}
}

// OutputConfidence reads a numeric "confidence" field from a payload.
func OutputConfidence(output map[string]any) (float64, bool) {
	return Number(output["confidence"])
}

// ConfidenceOr returns the payload confidence or def.
func ConfidenceOr(output map[string]any, def float64) float64 {
	if c, ok := OutputConfidence(output); ok {
		return c
	}
	return def
}

// Number converts JSON-ish numeric values to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
