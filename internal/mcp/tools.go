package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/makr-code/VCC-Veritas-sub002/internal/orchestrator"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	toolAsk    = "veritas_ask"
	toolMethod = "veritas_method"
)

func (s *Server) registerTools() {
	s.registerAskTool()
	s.registerMethodTool()
}

// ===== ASK =====

type askInput struct {
	Query    string         `json:"query" jsonschema:"The research question to answer"`
	MethodID string         `json:"method_id,omitempty" jsonschema:"Method to run (default: the server's default method)"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"Caller metadata passed through to the run"`
}

type askPhase struct {
	PhaseID    string   `json:"phase_id" jsonschema:"Phase identifier"`
	Status     string   `json:"status" jsonschema:"success, partial, failed or skipped"`
	Confidence float64  `json:"confidence" jsonschema:"Phase confidence in [0,1]"`
	RetryCount int      `json:"retry_count" jsonschema:"Retries used by the phase"`
	Errors     []string `json:"errors,omitempty" jsonschema:"Validation or execution errors"`
}

type askOutput struct {
	RunID        string     `json:"run_id" jsonschema:"Run identifier"`
	MethodID     string     `json:"method_id" jsonschema:"Method that ran"`
	Status       string     `json:"status" jsonschema:"completed, aborted or cancelled"`
	Answer       string     `json:"answer" jsonschema:"Final answer"`
	Confidence   float64    `json:"confidence" jsonschema:"Final confidence in [0,1]"`
	AnswerSource string     `json:"answer_source" jsonschema:"Where the answer came from: synthesis, conclusion or fallback"`
	AbortedAt    string     `json:"aborted_at,omitempty" jsonschema:"Critical phase that aborted the run"`
	RAGDegraded  bool       `json:"rag_degraded" jsonschema:"True if context retrieval failed"`
	Phases       []askPhase `json:"phases" jsonschema:"Executed phases in order"`
}

func toAskOutput(res *orchestrator.Result) askOutput {
	out := askOutput{
		RunID:        res.RunID,
		MethodID:     res.MethodID,
		Status:       string(res.Status),
		Answer:       res.Answer,
		Confidence:   res.Confidence,
		AnswerSource: string(res.AnswerSource),
		AbortedAt:    res.AbortedAt,
		RAGDegraded:  res.RAGDegraded,
		Phases:       make([]askPhase, 0, len(res.Phases)),
	}
	for _, pr := range res.Phases {
		out.Phases = append(out.Phases, askPhase{
			PhaseID:    pr.PhaseID,
			Status:     string(pr.Status),
			Confidence: pr.Confidence,
			RetryCount: pr.RetryCount,
			Errors:     pr.ValidationErrors,
		})
	}
	return out
}

func (s *Server) registerAskTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolAsk,
		Description: "Answer a research question by running it through a multi-phase scientific method",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args askInput) (*mcp.CallToolResult, askOutput, error) {
		done := s.metrics.Begin(ctx, toolAsk)
		var toolErr error
		defer func() { done(toolErr) }()

		query := strings.TrimSpace(args.Query)
		if query == "" {
			toolErr = orchestrator.ErrEmptyQuery
			return nil, askOutput{}, toolErr
		}

		if s.runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
			defer cancel()
		}

		res, err := s.pipeline.Run(ctx, args.MethodID, orchestrator.Request{Query: query, Metadata: args.Metadata})
		if err != nil {
			toolErr = fmt.Errorf("run failed: %w", err)
			s.logger.Warn(ctx, "veritas_ask failed", zap.String("method_id", args.MethodID), zap.Error(err))
			return nil, askOutput{}, toolErr
		}
		s.metrics.RecordRun(ctx, res.MethodID, res.Status)
		if res.Status == orchestrator.RunCancelled {
			toolErr = fmt.Errorf("run %s cancelled: %w", res.RunID, context.Cause(ctx))
			return nil, askOutput{}, toolErr
		}

		out := toAskOutput(res)
		text := fmt.Sprintf("%s\n\n(confidence %.2f, status %s, method %s)", out.Answer, out.Confidence, out.Status, out.MethodID)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: text},
			},
		}, out, nil
	})
}

// ===== METHOD =====

type methodInput struct {
	MethodID string `json:"method_id,omitempty" jsonschema:"Method to describe (default: the server's default method)"`
}

type methodPhase struct {
	PhaseID  string `json:"phase_id" jsonschema:"Phase identifier"`
	Executor string `json:"executor" jsonschema:"standard, supervisor or agent_coordinator"`
	Model    string `json:"model,omitempty" jsonschema:"Model used by standard phases"`
	Critical bool   `json:"critical" jsonschema:"True if a failure aborts the run"`
}

type methodOutput struct {
	MethodID          string        `json:"method_id" jsonschema:"Method identifier"`
	Name              string        `json:"name,omitempty" jsonschema:"Display name"`
	Description       string        `json:"description,omitempty" jsonschema:"What the method is for"`
	SupervisorEnabled bool          `json:"supervisor_enabled" jsonschema:"True if supervisor phases run"`
	PlannedPhases     []string      `json:"planned_phases" jsonschema:"Phases that will run, in order"`
	Phases            []methodPhase `json:"phases" jsonschema:"All declared phases"`
}

func (s *Server) registerMethodTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolMethod,
		Description: "Describe a research method and the phases a query will run through",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args methodInput) (*mcp.CallToolResult, methodOutput, error) {
		done := s.metrics.Begin(ctx, toolMethod)
		var toolErr error
		defer func() { done(toolErr) }()

		o, err := s.pipeline.Orchestrator(args.MethodID)
		if err != nil {
			toolErr = err
			return nil, methodOutput{}, toolErr
		}

		cfg := o.Method()
		out := methodOutput{
			MethodID:          cfg.MethodID,
			Name:              cfg.Name,
			Description:       cfg.Description,
			SupervisorEnabled: cfg.SupervisorEnabled,
			PlannedPhases:     o.PlannedPhases(),
			Phases:            make([]methodPhase, 0, len(cfg.Phases)),
		}
		if out.PlannedPhases == nil {
			out.PlannedPhases = []string{}
		}
		for _, p := range cfg.Phases {
			out.Phases = append(out.Phases, methodPhase{
				PhaseID:  p.PhaseID,
				Executor: string(p.Executor),
				Model:    p.Execution.Model,
				Critical: cfg.IsCritical(p.PhaseID),
			})
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Method %s runs %d phases: %s", out.MethodID, len(out.PlannedPhases), strings.Join(out.PlannedPhases, " → "))},
			},
		}, out, nil
	})
}
