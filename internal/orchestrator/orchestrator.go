package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/agents"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/mapping"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/phase"
	"github.com/makr-code/VCC-Veritas-sub002/internal/pipeline"
	"github.com/makr-code/VCC-Veritas-sub002/internal/rag"
	"github.com/makr-code/VCC-Veritas-sub002/internal/stream"
	"github.com/makr-code/VCC-Veritas-sub002/internal/supervisor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Orchestrator runs queries through one method. It is safe for concurrent use;
// every run owns its own RunContext.
type Orchestrator struct {
	cfg      *method.Config
	adapters map[method.ExecutorKind]pipeline.Adapter
	planned  []*method.Phase
	skipped  []SkippedPhase

	retriever rag.Retriever
	enricher  QueryEnricher
	sink      stream.Sink

	logger            *logging.Logger
	tracer            trace.Tracer
	defaultConfidence float64
	retryBaseDelay    time.Duration
	maxAgents         int
	agentTimeout      time.Duration
	bufferSize        int
	gates             []PhaseGate
	overrides         map[method.ExecutorKind]pipeline.Adapter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer for run and phase spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithEnricher installs a query enrichment hook.
func WithEnricher(e QueryEnricher) Option {
	return func(o *Orchestrator) { o.enricher = e }
}

// WithGate adds a phase gate after the supervisor gate.
func WithGate(g PhaseGate) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.gates = append(o.gates, g)
		}
	}
}

// WithDefaultConfidence sets the confidence used when no output carries one.
func WithDefaultConfidence(c float64) Option {
	return func(o *Orchestrator) { o.defaultConfidence = c }
}

// WithRetryBaseDelay sets the LLM retry backoff base.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.retryBaseDelay = d }
}

// WithMaxAgentConcurrency bounds agent fan-out unless the method sets its own bound.
func WithMaxAgentConcurrency(n int) Option {
	return func(o *Orchestrator) { o.maxAgents = n }
}

// WithAgentTimeout bounds each agent run.
func WithAgentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.agentTimeout = d }
}

// WithBufferSize sets the per-run stream queue size.
func WithBufferSize(n int) Option {
	return func(o *Orchestrator) { o.bufferSize = n }
}

// WithSink mirrors every streamed event to s.
func WithSink(s stream.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithAdapter replaces the adapter for one executor kind.
func WithAdapter(kind method.ExecutorKind, a pipeline.Adapter) Option {
	return func(o *Orchestrator) {
		if o.overrides == nil {
			o.overrides = make(map[method.ExecutorKind]pipeline.Adapter)
		}
		o.overrides[kind] = a
	}
}

// New creates an orchestrator for a prepared method config.
func New(cfg *method.Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil method config", method.ErrConfigInvalid)
	}
	o := &Orchestrator{
		cfg:               cfg,
		retriever:         deps.Retriever,
		logger:            logging.NewNop(),
		tracer:            otel.Tracer("veritas/orchestrator"),
		defaultConfidence: phase.DefaultConfidence,
		retryBaseDelay:    phase.DefaultRetryBaseDelay,
		maxAgents:         agents.DefaultMaxConcurrency,
		bufferSize:        stream.DefaultBufferSize,
		gates:             []PhaseGate{NewSupervisorGate()},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")

	if n := cfg.Orchestration.MaxAgentConcurrency; n > 0 {
		o.maxAgents = n
	}

	resolver := mapping.NewResolver(o.logger)
	o.adapters = map[method.ExecutorKind]pipeline.Adapter{
		method.ExecutorStandard: phase.NewExecutor(cfg, deps.Prompts, deps.Generator,
			phase.WithRetryBaseDelay(o.retryBaseDelay),
			phase.WithDefaultConfidence(o.defaultConfidence),
			phase.WithLogger(o.logger),
		),
		method.ExecutorSupervisor: supervisor.NewAdapter(deps.Supervisor, resolver, o.logger, o.defaultConfidence),
		method.ExecutorAgentCoordinator: agents.NewAdapter(deps.Runner,
			agents.WithMaxConcurrency(o.maxAgents),
			agents.WithAgentTimeout(o.agentTimeout),
			agents.WithDefaultConfidence(o.defaultConfidence),
			agents.WithLogger(o.logger),
			agents.WithResolver(resolver),
		),
	}
	for kind, a := range o.overrides {
		o.adapters[kind] = a
	}

	o.planned, o.skipped = plan(cfg, o.gates)
	return o, nil
}

// Load reads methodID from store and creates an orchestrator for it. The store
// doubles as the prompt source when deps.Prompts is nil.
func Load(store *method.Store, methodID string, deps Deps, opts ...Option) (*Orchestrator, error) {
	cfg, err := store.LoadMethod(methodID)
	if err != nil {
		return nil, err
	}
	if deps.Prompts == nil {
		deps.Prompts = store
	}
	return New(cfg, deps, opts...)
}

// Method returns the method the orchestrator runs.
func (o *Orchestrator) Method() *method.Config {
	return o.cfg
}

// PlannedPhases returns the ids of the phases a run executes, in order.
func (o *Orchestrator) PlannedPhases() []string {
	ids := make([]string, len(o.planned))
	for i, p := range o.planned {
		ids[i] = p.PhaseID
	}
	return ids
}

// Run executes req and blocks until the run ends. Only an empty query is
// reported as an error; phase failures are carried in the result. Cancelling
// ctx lets the phase in flight finish, then the run stops with status
// cancelled and no answer.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	return o.execute(ctx, req, newRunContext(req), nil)
}

// emitFunc publishes one event of a streaming run.
type emitFunc func(kind stream.Kind, data map[string]any)

func newRunContext(req Request) *pipeline.RunContext {
	return pipeline.NewRunContext(strings.TrimSpace(req.Query), req.Metadata)
}

func (o *Orchestrator) execute(ctx context.Context, req Request, rc *pipeline.RunContext, emit emitFunc) (res *Result, err error) {
	if emit == nil {
		emit = func(stream.Kind, map[string]any) {}
	}
	if rc.UserQuery == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	methodID := o.cfg.MethodID
	ctx = logging.WithRunID(ctx, rc.RunID)
	ctx = logging.WithMethodID(ctx, methodID)

	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("run.id", rc.RunID),
		attribute.String("method.id", methodID),
		attribute.Int("phases.planned", len(o.planned)),
	))
	defer span.End()

	res = &Result{
		RunID:    rc.RunID,
		MethodID: methodID,
		Query:    rc.UserQuery,
		Status:   RunCompleted,
	}
	for _, s := range o.skipped {
		res.SkippedPhases = append(res.SkippedPhases, s.PhaseID)
	}
	defer func() {
		res.Duration = time.Since(start)
		runsTotal.WithLabelValues(methodID, string(res.Status)).Inc()
		runDuration.WithLabelValues(methodID).Observe(res.Duration.Seconds())
		span.SetAttributes(attribute.String("run.status", string(res.Status)))
		o.logger.Info(ctx, "run finished",
			zap.String("status", string(res.Status)),
			zap.String("answer_source", string(res.AnswerSource)),
			zap.Int("phases", len(res.Phases)),
			zap.Duration("duration", res.Duration),
		)
	}()

	o.logger.Info(ctx, "run started", zap.Int("planned_phases", len(o.planned)))
	emit(stream.KindProgress, progress(0, "started", "Starting analysis"))

	query := o.enrich(ctx, rc)

	emit(stream.KindProcessingStep, map[string]any{"step": "rag_collection", "status": "started"})
	passages, degraded := o.collect(ctx, query)
	res.RAGResults, res.RAGDegraded = passages, degraded
	if err := rc.SetRAGResults(passages); err != nil {
		return res, err
	}
	emit(stream.KindProcessingStep, map[string]any{
		"step":     "rag_collection",
		"status":   "completed",
		"passages": len(passages),
		"degraded": degraded,
	})
	emit(stream.KindProgress, progress(10, "rag_collection", "Context collected"))

	total := len(o.planned)
	for i, p := range o.planned {
		if ctx.Err() != nil {
			res.Status = RunCancelled
			o.logger.Info(ctx, "run cancelled", zap.String("next_phase", p.PhaseID))
			span.SetStatus(codes.Error, "cancelled")
			return res, nil
		}

		pr := o.runPhase(pipeline.DetachPhase(ctx), p, rc)
		res.Phases = append(res.Phases, pr)
		if err := rc.Record(p.PhaseID, pr.Output); err != nil {
			o.logger.Warn(ctx, "phase output not recorded", zap.String("phase.id", p.PhaseID), zap.Error(err))
		}

		// A run cancelled while this phase ran keeps its result but is never
		// classified as aborted, and reports nothing further.
		if ctx.Err() != nil {
			res.Status = RunCancelled
			o.logger.Info(ctx, "run cancelled", zap.String("last_phase", p.PhaseID))
			span.SetStatus(codes.Error, "cancelled")
			return res, nil
		}

		emit(stream.KindPhaseComplete, phaseEvent(p, pr))
		pct := 10 + 85*(i+1)/total
		emit(stream.KindProgress, progress(pct, p.PhaseID, fmt.Sprintf("Completed phase %d of %d: %s", i+1, total, p.PhaseID)))

		if pr.Status == pipeline.StatusFailed && o.cfg.IsCritical(p.PhaseID) {
			res.Status = RunAborted
			res.AbortedAt = p.PhaseID
			o.logger.Warn(ctx, "critical phase failed, aborting run", zap.String("phase.id", p.PhaseID))
			span.SetStatus(codes.Error, "critical phase failed: "+p.PhaseID)
			break
		}
	}

	if res.Status == RunCompleted && ctx.Err() != nil {
		res.Status = RunCancelled
		span.SetStatus(codes.Error, "cancelled")
		return res, nil
	}

	res.Answer, res.Confidence, res.AnswerSource = finalAnswer(o.cfg, res.Phases, o.defaultConfidence)
	emit(stream.KindFinalResult, map[string]any{
		"run_id":        res.RunID,
		"method_id":     res.MethodID,
		"status":        string(res.Status),
		"answer":        res.Answer,
		"confidence":    res.Confidence,
		"answer_source": string(res.AnswerSource),
		"aborted_at":    res.AbortedAt,
		"phases":        res.Phases,
		"rag_degraded":  res.RAGDegraded,
	})
	emit(stream.KindProgress, progress(100, "done", "Analysis complete"))
	return res, nil
}

func (o *Orchestrator) enrich(ctx context.Context, rc *pipeline.RunContext) string {
	if o.enricher == nil {
		return rc.UserQuery
	}
	q, err := o.enricher.Enrich(ctx, rc.UserQuery, rc.Metadata)
	if err != nil {
		o.logger.Warn(ctx, "query enrichment failed, using original query", zap.Error(err))
		return rc.UserQuery
	}
	if q = strings.TrimSpace(q); q == "" {
		return rc.UserQuery
	}
	return q
}

func (o *Orchestrator) collect(ctx context.Context, query string) ([]rag.Passage, bool) {
	if o.retriever == nil {
		return []rag.Passage{}, false
	}
	passages, err := o.retriever.Search(ctx, query)
	if err != nil {
		ragFallbacks.Inc()
		o.logger.Warn(ctx, "retrieval failed, continuing degraded", zap.Error(err))
		return []rag.Passage{rag.Degraded(err)}, true
	}
	if passages == nil {
		passages = []rag.Passage{}
	}
	return passages, false
}

// runPhase dispatches p to its adapter. Errors and panics become a failed result.
func (o *Orchestrator) runPhase(ctx context.Context, p *method.Phase, rc *pipeline.RunContext) (pr *pipeline.PhaseResult) {
	ctx = logging.WithPhaseID(ctx, p.PhaseID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.phase", trace.WithAttributes(
		attribute.String("phase.id", p.PhaseID),
		attribute.String("phase.executor", string(p.Executor)),
	))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(ctx, "phase panicked", zap.Any("panic", r))
			pr = pipeline.Failed(p.PhaseID, fmt.Errorf("panic: %v", r), time.Since(start))
		}
		span.SetAttributes(
			attribute.String("phase.status", string(pr.Status)),
			attribute.Int("phase.retry_count", pr.RetryCount),
		)
		if pr.Status == pipeline.StatusFailed {
			span.SetStatus(codes.Error, "phase failed")
		}
		span.End()
		phasesTotal.WithLabelValues(p.PhaseID, string(p.Executor), string(pr.Status)).Inc()
		phaseDuration.WithLabelValues(p.PhaseID).Observe(time.Since(start).Seconds())
	}()

	adapter, ok := o.adapters[p.Executor]
	if !ok {
		return pipeline.Failed(p.PhaseID, fmt.Errorf("no adapter for executor %q", p.Executor), 0)
	}

	pr, err := adapter.Execute(ctx, p, rc)
	if err != nil {
		span.RecordError(err)
		level := o.logger.Warn
		if errors.Is(err, phase.ErrUnknownPhase) {
			level = o.logger.Error
		}
		level(ctx, "phase failed", zap.Error(err))
		return pipeline.Failed(p.PhaseID, err, time.Since(start))
	}
	if pr == nil {
		return pipeline.Failed(p.PhaseID, errors.New("adapter returned no result"), time.Since(start))
	}
	return pr
}

func progress(pct int, stage, message string) map[string]any {
	return map[string]any{"percentage": pct, "stage": stage, "message": message}
}

func phaseEvent(p *method.Phase, pr *pipeline.PhaseResult) map[string]any {
	ve := pr.ValidationErrors
	if ve == nil {
		ve = []string{}
	}
	return map[string]any{
		"phase_id":          pr.PhaseID,
		"phase_number":      p.PhaseNumber,
		"executor":          string(p.Executor),
		"status":            string(pr.Status),
		"confidence":        pr.Confidence,
		"execution_time":    pr.ExecutionTime.Seconds(),
		"retry_count":       pr.RetryCount,
		"validation_errors": ve,
		"output":            pr.Output,
	}
}
