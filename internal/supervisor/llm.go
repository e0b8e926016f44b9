package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/llm"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/phase"
	"go.uber.org/zap"
)

// DefaultAgentTypes are offered to the planner when none are configured.
var DefaultAgentTypes = []string{"literature", "data_analysis", "fact_check"}

// LLMConfig configures an LLM-backed supervisor.
type LLMConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	AgentTypes  []string
}

// LLM implements Supervisor with prompted model calls. Replies that cannot be
// decoded fall back to a single subquery or a one-agent-per-subquery plan;
// synthesis has no fallback and reports the decode error.
type LLM struct {
	gen    llm.Generator
	cfg    LLMConfig
	logger *logging.Logger
}

// NewLLM creates an LLM-backed supervisor.
func NewLLM(gen llm.Generator, cfg LLMConfig, logger *logging.Logger) *LLM {
	if len(cfg.AgentTypes) == 0 {
		cfg.AgentTypes = DefaultAgentTypes
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LLM{gen: gen, cfg: cfg, logger: logger.Named("supervisor")}
}

func (s *LLM) call(ctx context.Context, prompt string) (string, error) {
	if s.gen == nil {
		return "", ErrUnavailable
	}
	return s.gen.Generate(ctx, llm.Request{
		Model:       s.cfg.Model,
		Prompt:      prompt,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		Timeout:     s.cfg.Timeout,
	})
}

func subqueryBudget(hint Complexity) string {
	switch hint {
	case ComplexitySimple:
		return "1 or 2"
	case ComplexityComplex:
		return "3 to 5"
	default:
		return "2 or 3"
	}
}

// Decompose implements Supervisor.
func (s *LLM) Decompose(ctx context.Context, query string, userContext map[string]any, hint Complexity) ([]Subquery, error) {
	var b strings.Builder
	b.WriteString("You are a research supervisor. Split the question into independent subqueries.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", query)
	if len(userContext) > 0 {
		fmt.Fprintf(&b, "Known context: %s\n", compactJSON(userContext))
	}
	fmt.Fprintf(&b, "\nProduce %s subqueries. Reply with JSON only:\n", subqueryBudget(hint))
	b.WriteString(`{"subqueries": [{"id": "sq1", "query": "...", "rationale": "..."}]}`)

	raw, err := s.call(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}

	var reply struct {
		Subqueries []Subquery `json:"subqueries"`
	}
	if err := phase.DecodeJSON(raw, &reply); err != nil || len(reply.Subqueries) == 0 {
		s.logger.Warn(ctx, "decomposition reply unusable, using the query as the only subquery", zap.Error(err))
		return []Subquery{{ID: "sq1", Query: query}}, nil
	}
	for i := range reply.Subqueries {
		if reply.Subqueries[i].ID == "" {
			reply.Subqueries[i].ID = fmt.Sprintf("sq%d", i+1)
		}
	}
	return reply.Subqueries, nil
}

// PlanAgents implements Supervisor.
func (s *LLM) PlanAgents(ctx context.Context, subqueries []Subquery, ragContext any) (*Plan, error) {
	var b strings.Builder
	b.WriteString("You are a research supervisor. Assign a specialist agent to each subquery.\n\n")
	fmt.Fprintf(&b, "Available agent types: %s\n", strings.Join(s.cfg.AgentTypes, ", "))
	fmt.Fprintf(&b, "Subqueries: %s\n", compactJSON(subqueries))
	if ragContext != nil {
		fmt.Fprintf(&b, "Retrieved context: %s\n", compactJSON(ragContext))
	}
	b.WriteString("\nReply with JSON only:\n")
	b.WriteString(`{"parallel_assignments": [{"agent_type": "...", "subquery_id": "sq1", "confidence": 0.8, "matching_capabilities": ["..."]}], "sequential_assignments": []}`)

	raw, err := s.call(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("plan agents: %w", err)
	}

	var plan Plan
	if err := phase.DecodeJSON(raw, &plan); err != nil || len(plan.Parallel)+len(plan.Sequential) == 0 {
		s.logger.Warn(ctx, "plan reply unusable, assigning the first agent type to every subquery", zap.Error(err))
		return s.fallbackPlan(subqueries), nil
	}
	plan.Parallel = s.knownAgents(ctx, plan.Parallel)
	plan.Sequential = s.knownAgents(ctx, plan.Sequential)
	return &plan, nil
}

func (s *LLM) fallbackPlan(subqueries []Subquery) *Plan {
	plan := &Plan{Parallel: make([]Assignment, 0, len(subqueries))}
	for _, sq := range subqueries {
		plan.Parallel = append(plan.Parallel, Assignment{
			AgentType:            s.cfg.AgentTypes[0],
			SubqueryID:           sq.ID,
			Query:                sq.Query,
			Confidence:           0.5,
			MatchingCapabilities: []string{},
		})
	}
	return plan
}

// knownAgents drops assignments to agent types that were not offered.
func (s *LLM) knownAgents(ctx context.Context, in []Assignment) []Assignment {
	out := in[:0]
	for _, a := range in {
		if !contains(s.cfg.AgentTypes, a.AgentType) {
			s.logger.Debug(ctx, "dropping assignment to unknown agent type", zap.String("agent_type", a.AgentType))
			continue
		}
		if a.MatchingCapabilities == nil {
			a.MatchingCapabilities = []string{}
		}
		out = append(out, a)
	}
	return out
}

// Synthesize implements Supervisor.
func (s *LLM) Synthesize(ctx context.Context, query string, results []AgentResult, ragContext any) (*Synthesis, error) {
	var b strings.Builder
	b.WriteString("You are a research supervisor. Merge the agent findings into one answer and list disagreements.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", query)
	fmt.Fprintf(&b, "Agent results: %s\n", compactJSON(results))
	if ragContext != nil {
		fmt.Fprintf(&b, "Retrieved context: %s\n", compactJSON(ragContext))
	}
	b.WriteString("\nReply with JSON only:\n")
	b.WriteString(`{"answer": "...", "confidence": 0.0, "conflicts": [{"agents": ["..."], "description": "..."}]}`)

	raw, err := s.call(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	var syn Synthesis
	if err := phase.DecodeJSON(raw, &syn); err != nil {
		return nil, fmt.Errorf("synthesize: decode reply: %w", err)
	}
	if syn.Conflicts == nil {
		syn.Conflicts = []Conflict{}
	}
	syn.Confidence = clamp01(syn.Confidence)
	return &syn, nil
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
