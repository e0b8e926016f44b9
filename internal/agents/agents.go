// Package agents runs the agent-coordination phase: it executes the parallel
// assignments of a supervisor plan against an agent Runner with bounded
// concurrency, or produces deterministic stand-ins when no runner is configured.
package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/mapping"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/pipeline"
	"github.com/makr-code/VCC-Veritas-sub002/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// StandInConfidence is the confidence of every stand-in result.
	StandInConfidence = 0.7

	// DefaultMaxConcurrency bounds the fan-out when nothing else is configured.
	DefaultMaxConcurrency = 4

	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"

	ModeRunner  = "runner"
	ModeStandIn = "stand_in"
)

var (
	executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veritas",
			Subsystem: "agents",
			Name:      "executions_total",
			Help:      "Agent executions by agent type and status",
		},
		[]string{"agent_type", "status"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veritas",
			Subsystem: "agents",
			Name:      "execution_duration_seconds",
			Help:      "Duration of agent executions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent_type"},
	)
)

// Output is what an agent returns.
type Output struct {
	Summary    string         `json:"summary"`
	Confidence float64        `json:"confidence"`
	Sources    []string       `json:"sources"`
	Details    map[string]any `json:"details,omitempty"`
}

// Runner executes one specialist agent.
type Runner interface {
	Run(ctx context.Context, agentType, query string, ragContext any, subqueryID string) (*Output, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, agentType, query string, ragContext any, subqueryID string) (*Output, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, agentType, query string, ragContext any, subqueryID string) (*Output, error) {
	return f(ctx, agentType, query, ragContext, subqueryID)
}

// Adapter executes agent-coordination phases.
type Adapter struct {
	runner            Runner
	resolver          *mapping.Resolver
	logger            *logging.Logger
	maxConcurrency    int
	agentTimeout      time.Duration
	defaultConfidence float64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithMaxConcurrency bounds concurrent agent runs.
func WithMaxConcurrency(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxConcurrency = n
		}
	}
}

// WithAgentTimeout bounds each agent run.
func WithAgentTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.agentTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDefaultConfidence sets the phase confidence used when no agent succeeded.
func WithDefaultConfidence(c float64) Option {
	return func(a *Adapter) { a.defaultConfidence = c }
}

// WithResolver sets the input-mapping resolver.
func WithResolver(r *mapping.Resolver) Option {
	return func(a *Adapter) {
		if r != nil {
			a.resolver = r
		}
	}
}

// NewAdapter creates an adapter. A nil runner selects stand-in mode.
func NewAdapter(runner Runner, opts ...Option) *Adapter {
	a := &Adapter{
		runner:            runner,
		logger:            logging.NewNop(),
		maxConcurrency:    DefaultMaxConcurrency,
		defaultConfidence: 0.5,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("agents")
	if a.resolver == nil {
		a.resolver = mapping.NewResolver(a.logger)
	}
	return a
}

// MaxConcurrency returns the fan-out bound.
func (a *Adapter) MaxConcurrency() int {
	return a.maxConcurrency
}

// Execute implements pipeline.Adapter. The phase always reports status
// "completed" in its output; the PhaseResult is partial when any agent failed or
// the plan could not be resolved.
func (a *Adapter) Execute(ctx context.Context, p *method.Phase, rc *pipeline.RunContext) (*pipeline.PhaseResult, error) {
	start := time.Now()
	inputs := a.resolver.ResolveAll(ctx, p.InputMapping, rc)

	var plan supervisor.Plan
	planResolved := true
	if err := inputs["agent_plan"].Decode(&plan); err != nil {
		a.logger.Warn(ctx, "agent plan unavailable, no agents run", zap.String("phase_id", p.PhaseID), zap.Error(err))
		planResolved = false
	}

	var subqueries []supervisor.Subquery
	if v := inputs["subqueries"]; v.Present() {
		if err := v.Decode(&subqueries); err != nil {
			a.logger.Debug(ctx, "subqueries not decodable", zap.Error(err))
		}
	}

	rag := inputs["rag_results"].Raw()
	if rag == nil && rc != nil {
		rag = rc.RAGResults()
	}
	userQuery := ""
	if rc != nil {
		userQuery = rc.UserQuery
	}

	jobs := make([]job, len(plan.Parallel))
	for i, as := range plan.Parallel {
		jobs[i] = job{assignment: as, query: queryFor(as, subqueries, userQuery)}
	}

	mode := ModeRunner
	var results []supervisor.AgentResult
	if a.runner == nil {
		mode = ModeStandIn
		results = standIns(jobs)
	} else {
		results = a.fanOut(ctx, jobs, rag)
	}

	agentResults := make(map[string]any, len(results))
	order := make([]string, 0, len(results))
	successful, failed := 0, 0
	confSum := 0.0
	for i, r := range results {
		key := resultKey(agentResults, r, i)
		agentResults[key] = r
		order = append(order, key)
		if r.Status == StatusCompleted {
			successful++
			confSum += r.Confidence
		} else {
			failed++
		}
		executions.WithLabelValues(r.AgentType, r.Status).Inc()
	}

	output := map[string]any{
		"status":        StatusCompleted,
		"agent_results": agentResults,
		"execution_metadata": map[string]any{
			"total":              len(results),
			"successful":         successful,
			"failed":             failed,
			"order":              order,
			"mode":               mode,
			"max_concurrency":    a.maxConcurrency,
			"sequential_pending": len(plan.Sequential),
		},
	}

	confidence := a.defaultConfidence
	if successful > 0 {
		confidence = confSum / float64(successful)
		output["confidence"] = confidence
	}

	status := pipeline.StatusSuccess
	if failed > 0 || !planResolved {
		status = pipeline.StatusPartial
	}

	a.logger.Info(ctx, "agents executed",
		zap.String("mode", mode),
		zap.Int("total", len(results)),
		zap.Int("successful", successful),
		zap.Int("failed", failed),
	)

	return &pipeline.PhaseResult{
		PhaseID:       p.PhaseID,
		Status:        status,
		Output:        output,
		Confidence:    confidence,
		ExecutionTime: time.Since(start),
	}, nil
}

type job struct {
	assignment supervisor.Assignment
	query      string
}

// fanOut runs every job with at most maxConcurrency in flight. Run
// cancellation is checked before each launch; jobs not launched are reported
// as cancelled, agents already running finish.
// Results keep the order of jobs.
func (a *Adapter) fanOut(ctx context.Context, jobs []job, rag any) []supervisor.AgentResult {
	results := make([]supervisor.AgentResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(a.maxConcurrency)

	for i := range jobs {
		if err := pipeline.RunErr(ctx); err != nil {
			for j := i; j < len(jobs); j++ {
				results[j] = cancelled(jobs[j], err)
			}
			break
		}
		g.Go(func() error {
			results[i] = a.runOne(ctx, jobs[i], rag)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Adapter) runOne(ctx context.Context, j job, rag any) (res supervisor.AgentResult) {
	as := j.assignment
	start := time.Now()
	res = supervisor.AgentResult{
		AgentType:  as.AgentType,
		SubqueryID: as.SubqueryID,
		Sources:    []string{},
	}

	defer func() {
		if p := recover(); p != nil {
			a.logger.Error(ctx, "agent panicked", zap.String("agent_type", as.AgentType), zap.Any("panic", p))
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("agent panicked: %v", p)
		}
		elapsed := time.Since(start)
		res.ExecutionTime = elapsed.Seconds()
		executionDuration.WithLabelValues(as.AgentType).Observe(elapsed.Seconds())
	}()

	if a.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.agentTimeout)
		defer cancel()
	}

	out, err := a.runner.Run(ctx, as.AgentType, j.query, rag, as.SubqueryID)
	if err != nil {
		a.logger.Warn(ctx, "agent failed", zap.String("agent_type", as.AgentType), zap.Error(err))
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}
	if out == nil {
		out = &Output{}
	}
	res.Status = StatusCompleted
	res.Summary = out.Summary
	res.Confidence = out.Confidence
	res.Details = out.Details
	if out.Sources != nil {
		res.Sources = out.Sources
	}
	return res
}

func standIns(jobs []job) []supervisor.AgentResult {
	out := make([]supervisor.AgentResult, len(jobs))
	for i, j := range jobs {
		out[i] = supervisor.AgentResult{
			AgentType:  j.assignment.AgentType,
			SubqueryID: j.assignment.SubqueryID,
			Status:     StatusCompleted,
			Summary:    fmt.Sprintf("Stand-in result from %s agent for: %s", j.assignment.AgentType, j.query),
			Confidence: StandInConfidence,
			Sources:    []string{},
			Details:    map[string]any{"stand_in": true},
		}
	}
	return out
}

func cancelled(j job, err error) supervisor.AgentResult {
	return supervisor.AgentResult{
		AgentType:  j.assignment.AgentType,
		SubqueryID: j.assignment.SubqueryID,
		Status:     StatusCancelled,
		Sources:    []string{},
		Error:      err.Error(),
	}
}

// queryFor picks the assignment's own query, then its subquery's text, then the
// user query.
func queryFor(as supervisor.Assignment, subqueries []supervisor.Subquery, userQuery string) string {
	if as.Query != "" {
		return as.Query
	}
	for _, sq := range subqueries {
		if sq.ID == as.SubqueryID && sq.Query != "" {
			return sq.Query
		}
	}
	return userQuery
}

// resultKey keys results by agent type. A repeated type gets its subquery id
// (or position) appended.
func resultKey(existing map[string]any, r supervisor.AgentResult, i int) string {
	key := r.AgentType
	if key == "" {
		key = fmt.Sprintf("agent_%d", i)
	}
	if _, dup := existing[key]; !dup {
		return key
	}
	if r.SubqueryID != "" {
		if k := key + ":" + r.SubqueryID; existing[k] == nil {
			return k
		}
	}
	return fmt.Sprintf("%s:%d", key, i)
}
