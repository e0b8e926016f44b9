package http

import (
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/orchestrator"
)

// HeaderRunID carries the run id of a streaming response.
const HeaderRunID = "X-Run-ID"

// QueryRequest is the request body for POST /api/v1/query and /api/v1/query/stream.
type QueryRequest struct {
	Query    string         `json:"query"`
	MethodID string         `json:"method_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (r *QueryRequest) toRequest() orchestrator.Request {
	return orchestrator.Request{Query: r.Query, Metadata: r.Metadata}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	DefaultMethod string `json:"default_method"`
	Events        bool   `json:"events"`
	Error         string `json:"error,omitempty"`
}

// RunAccepted is the response body for POST /api/v1/runs.
type RunAccepted struct {
	RunID     string `json:"run_id"`
	EventsURL string `json:"events_url"`
}

// MethodSummary is the response body for GET /api/v1/methods/:id.
type MethodSummary struct {
	MethodID          string         `json:"method_id"`
	Name              string         `json:"name,omitempty"`
	Version           string         `json:"version,omitempty"`
	Description       string         `json:"description,omitempty"`
	SupervisorEnabled bool           `json:"supervisor_enabled"`
	CriticalPhases    []string       `json:"critical_phases"`
	PlannedPhases     []string       `json:"planned_phases"`
	Phases            []PhaseSummary `json:"phases"`
}

// PhaseSummary describes one configured phase.
type PhaseSummary struct {
	PhaseID     string `json:"phase_id"`
	PhaseNumber int    `json:"phase_number"`
	Executor    string `json:"executor"`
	Method      string `json:"method,omitempty"`
	Model       string `json:"model,omitempty"`
	MaxRetries  int    `json:"max_retries"`
	HasSchema   bool   `json:"has_schema"`
}

func summarize(o *orchestrator.Orchestrator) MethodSummary {
	cfg := o.Method()
	critical := cfg.Orchestration.CriticalPhases
	if critical == nil {
		critical = []string{}
	}
	out := MethodSummary{
		MethodID:          cfg.MethodID,
		Name:              cfg.Name,
		Version:           cfg.Version,
		Description:       cfg.Description,
		SupervisorEnabled: cfg.SupervisorEnabled,
		CriticalPhases:    critical,
		PlannedPhases:     o.PlannedPhases(),
		Phases:            make([]PhaseSummary, len(cfg.Phases)),
	}
	for i := range cfg.Phases {
		p := &cfg.Phases[i]
		out.Phases[i] = PhaseSummary{
			PhaseID:     p.PhaseID,
			PhaseNumber: p.PhaseNumber,
			Executor:    string(p.Executor),
			Method:      p.Method,
			Model:       p.Execution.Model,
			MaxRetries:  p.RetryPolicy.MaxRetries,
			HasSchema:   p.Executor == method.ExecutorStandard && len(p.OutputSchema) > 0,
		}
	}
	return out
}
