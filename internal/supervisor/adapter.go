package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/mapping"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var operations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "veritas",
		Subsystem: "supervisor",
		Name:      "operations_total",
		Help:      "Supervisor phase operations by method and status",
	},
	[]string{"method", "status"},
)

// Adapter executes supervisor phases.
type Adapter struct {
	sup               Supervisor
	resolver          *mapping.Resolver
	logger            *logging.Logger
	defaultConfidence float64
}

// NewAdapter creates an adapter. sup may be nil, in which case every phase is skipped.
func NewAdapter(sup Supervisor, resolver *mapping.Resolver, logger *logging.Logger, defaultConfidence float64) *Adapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	if resolver == nil {
		resolver = mapping.NewResolver(logger)
	}
	return &Adapter{
		sup:               sup,
		resolver:          resolver,
		logger:            logger.Named("supervisor"),
		defaultConfidence: defaultConfidence,
	}
}

// Execute implements pipeline.Adapter.
func (a *Adapter) Execute(ctx context.Context, p *method.Phase, rc *pipeline.RunContext) (*pipeline.PhaseResult, error) {
	start := time.Now()

	if a.sup == nil {
		operations.WithLabelValues(p.Method, string(pipeline.StatusSkipped)).Inc()
		return pipeline.Skipped(p.PhaseID, ErrUnavailable.Error()), nil
	}

	inputs := a.resolver.ResolveAll(ctx, p.InputMapping, rc)

	var (
		output map[string]any
		err    error
	)
	switch p.Method {
	case method.MethodSelectAgents:
		output, err = a.selectAgents(ctx, inputs, rc)
	case method.MethodSynthesizeResults:
		output, err = a.synthesizeResults(ctx, inputs, rc)
	default:
		err = fmt.Errorf("unknown supervisor method %q", p.Method)
	}

	var result *pipeline.PhaseResult
	switch {
	case errors.Is(err, ErrUnavailable):
		a.logger.Warn(ctx, "supervisor unavailable, skipping phase", zap.String("phase_id", p.PhaseID), zap.Error(err))
		result = pipeline.Skipped(p.PhaseID, err.Error())
	case err != nil:
		a.logger.Error(ctx, "supervisor phase failed", zap.String("phase_id", p.PhaseID), zap.Error(err))
		result = pipeline.Failed(p.PhaseID, err, time.Since(start))
	default:
		result = &pipeline.PhaseResult{
			PhaseID:       p.PhaseID,
			Status:        pipeline.StatusSuccess,
			Output:        output,
			Confidence:    pipeline.ConfidenceOr(output, a.defaultConfidence),
			ExecutionTime: time.Since(start),
		}
	}
	operations.WithLabelValues(p.Method, string(result.Status)).Inc()
	return result, nil
}

func (a *Adapter) selectAgents(ctx context.Context, in map[string]mapping.Value, rc *pipeline.RunContext) (map[string]any, error) {
	query := queryInput(in, rc)
	missing := in["missing_information"].Strings()
	hint := InferComplexity(missing)

	var userContext map[string]any
	if v := in["user_context"]; v.Present() {
		if err := v.Decode(&userContext); err != nil {
			a.logger.Debug(ctx, "user_context is not an object, ignoring", zap.Error(err))
			userContext = nil
		}
	}
	rag := in["rag_results"].Raw()

	subqueries, err := a.sup.Decompose(ctx, query, userContext, hint)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	plan, err := a.sup.PlanAgents(ctx, subqueries, rag)
	if err != nil {
		return nil, fmt.Errorf("plan agents: %w", err)
	}
	if plan == nil {
		plan = &Plan{}
	}
	if subqueries == nil {
		subqueries = []Subquery{}
	}
	if plan.Parallel == nil {
		plan.Parallel = []Assignment{}
	}
	if plan.Sequential == nil {
		plan.Sequential = []Assignment{}
	}

	a.logger.Info(ctx, "agents selected",
		zap.String("complexity", string(hint)),
		zap.Int("subqueries", len(subqueries)),
		zap.Int("parallel", len(plan.Parallel)),
		zap.Int("sequential", len(plan.Sequential)),
	)

	return map[string]any{
		"complexity": string(hint),
		"subqueries": subqueries,
		"agent_plan": plan,
	}, nil
}

func (a *Adapter) synthesizeResults(ctx context.Context, in map[string]mapping.Value, rc *pipeline.RunContext) (map[string]any, error) {
	query := queryInput(in, rc)
	results := ToAgentResults(in["agent_results"].Raw())
	rag := in["rag_results"].Raw()

	syn, err := a.sup.Synthesize(ctx, query, results, rag)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if syn == nil {
		return nil, errors.New("synthesize returned no result")
	}
	conflicts := syn.Conflicts
	if conflicts == nil {
		conflicts = []Conflict{}
	}

	return map[string]any{
		"answer":      syn.Answer,
		"confidence":  syn.Confidence,
		"conflicts":   conflicts,
		"agent_count": len(results),
	}, nil
}

func queryInput(in map[string]mapping.Value, rc *pipeline.RunContext) string {
	if q, ok := in["query"].String(); ok && q != "" {
		return q
	}
	if rc != nil {
		return rc.UserQuery
	}
	return ""
}

// ToAgentResults converts a mapping of agent type to agent output into typed
// records, ordered by key. Entries that are neither objects nor strings are dropped.
func ToAgentResults(raw any) []AgentResult {
	entries, ok := raw.(map[string]any)
	if !ok {
		return []AgentResult{}
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]AgentResult, 0, len(entries))
	for _, key := range keys {
		var r AgentResult
		switch v := entries[key].(type) {
		case string:
			r = AgentResult{Summary: v, Status: "completed"}
		case map[string]any:
			if err := mapping.Some(v).Decode(&r); err != nil {
				continue
			}
		default:
			continue
		}
		if r.AgentType == "" {
			r.AgentType = key
		}
		if r.Status == "" {
			r.Status = "completed"
		}
		if r.Sources == nil {
			r.Sources = []string{}
		}
		out = append(out, r)
	}
	return out
}
