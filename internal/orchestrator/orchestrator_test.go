package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/llm"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/pipeline"
	"github.com/makr-code/VCC-Veritas-sub002/internal/rag"
	"github.com/makr-code/VCC-Veritas-sub002/internal/supervisor"
	"github.com/makr-code/VCC-Veritas-sub002/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type reply struct {
	text string
	err  error
}

// routedGenerator answers by model name. Test methods use the phase id as the
// model so each phase gets its own script; the last reply repeats.
type routedGenerator struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []llm.Request
	onCall  func(req llm.Request)
}

func newGenerator(replies map[string]string) *routedGenerator {
	g := &routedGenerator{replies: make(map[string][]reply)}
	for model, text := range replies {
		g.replies[model] = []reply{{text: text}}
	}
	return g
}

func (g *routedGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	queue := g.replies[req.Model]
	if len(queue) == 0 {
		g.mu.Unlock()
		return "", fmt.Errorf("no reply scripted for %s", req.Model)
	}
	r := queue[0]
	if len(queue) > 1 {
		g.replies[req.Model] = queue[1:]
	}
	onCall := g.onCall
	g.mu.Unlock()

	if onCall != nil {
		onCall(req)
	}
	return r.text, r.err
}

func (g *routedGenerator) models() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	for i, c := range g.calls {
		out[i] = c.Model
	}
	return out
}

func standardPhase(id string, number int) method.Phase {
	return method.Phase{
		PhaseID:     id,
		PhaseNumber: number,
		Execution:   method.Execution{Model: id, Temperature: 0.5, MaxTokens: 512},
	}
}

func testPrompts() method.StaticPrompts {
	prompts := method.StaticPrompts{}
	for _, id := range []string{"hypothesis", "synthesis", "analysis", "validation", "conclusion"} {
		prompts[id] = &method.PromptTemplate{ID: id, Role: "Scientist", Task: "Run the " + id + " step."}
	}
	return prompts
}

func prepared(t *testing.T, cfg *method.Config) *method.Config {
	t.Helper()
	require.NoError(t, cfg.Prepare())
	return cfg
}

// threePhaseMethod is hypothesis → synthesis → conclusion.
func threePhaseMethod(t *testing.T) *method.Config {
	return prepared(t, &method.Config{
		MethodID: "three",
		Phases: []method.Phase{
			standardPhase("hypothesis", 1),
			standardPhase("synthesis", 2),
			standardPhase("conclusion", 3),
		},
	})
}

var scenarioA = map[string]string{
	"hypothesis": `{"hypothesis": "Rayleigh scattering", "confidence": 0.9}`,
	"synthesis":  "```json\n{\"synthesis\": \"short wavelengths scatter more\", \"confidence\": 0.8}\n```",
	"conclusion": `{"main_answer": "The sky is blue because of Rayleigh scattering.", "confidence": 0.95}`,
}

func newTestOrchestrator(t *testing.T, cfg *method.Config, deps Deps, opts ...Option) *Orchestrator {
	t.Helper()
	if deps.Prompts == nil {
		deps.Prompts = testPrompts()
	}
	o, err := New(cfg, deps, opts...)
	require.NoError(t, err)
	return o
}

func TestRun_AllStandardPhasesSucceed(t *testing.T) {
	gen := newGenerator(scenarioA)
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: gen})

	res, err := o.Run(context.Background(), Request{Query: "Why is the sky blue?"})
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, res.Status)
	require.Len(t, res.Phases, 3)
	for _, pr := range res.Phases {
		assert.Equal(t, pipeline.StatusSuccess, pr.Status, pr.PhaseID)
	}
	assert.Equal(t, "The sky is blue because of Rayleigh scattering.", res.Answer)
	assert.Equal(t, SourceConclusion, res.AnswerSource)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Equal(t, "three", res.MethodID)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.RAGResults)
	assert.Equal(t, []string{"hypothesis", "synthesis", "conclusion"}, gen.models())
}

func TestRun_DeclaredOrderWinsOverPhaseNumber(t *testing.T) {
	cfg := prepared(t, &method.Config{
		MethodID: "reversed",
		Phases: []method.Phase{
			standardPhase("conclusion", 3),
			standardPhase("hypothesis", 1),
			standardPhase("synthesis", 2),
		},
	})
	gen := newGenerator(scenarioA)
	o := newTestOrchestrator(t, cfg, Deps{Generator: gen})

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"conclusion", "hypothesis", "synthesis"}, gen.models())
	assert.Equal(t, "conclusion", res.Phases[0].PhaseID)
	assert.Equal(t, []string{"conclusion", "hypothesis", "synthesis"}, o.PlannedPhases())
}

func TestRun_LaterPromptsSeeEarlierOutputs(t *testing.T) {
	gen := newGenerator(scenarioA)
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: gen})

	_, err := o.Run(context.Background(), Request{Query: "Why is the sky blue?"})
	require.NoError(t, err)

	require.Len(t, gen.calls, 3)
	assert.NotContains(t, gen.calls[0].Prompt, "## Hypothesis")
	assert.Contains(t, gen.calls[2].Prompt, "## Hypothesis")
	assert.Contains(t, gen.calls[2].Prompt, "Rayleigh scattering")
	assert.Contains(t, gen.calls[2].Prompt, "## Synthesis")
}

func TestRun_RetriesThroughOrchestrator(t *testing.T) {
	cfg := threePhaseMethod(t)
	cfg.Phases[0].RetryPolicy = method.RetryPolicy{MaxRetries: 2, TemperatureAdjustment: 0.5}

	gen := newGenerator(scenarioA)
	gen.replies["hypothesis"] = []reply{
		{err: errors.New("timeout")},
		{err: errors.New("timeout")},
		{text: scenarioA["hypothesis"]},
	}
	o := newTestOrchestrator(t, cfg, Deps{Generator: gen}, WithRetryBaseDelay(0))

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	pr, ok := res.PhaseResult("hypothesis")
	require.True(t, ok)
	assert.Equal(t, pipeline.StatusSuccess, pr.Status)
	assert.Equal(t, 2, pr.RetryCount)
}

func TestRun_LLMFailureIsRecordedAndRunContinues(t *testing.T) {
	gen := newGenerator(scenarioA)
	gen.replies["synthesis"] = []reply{{err: errors.New("model offline")}}
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: gen}, WithRetryBaseDelay(0))

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	require.Len(t, res.Phases, 3)

	synth := res.Phases[1]
	assert.Equal(t, pipeline.StatusFailed, synth.Status)
	assert.Contains(t, synth.Output["error"], "model offline")
	assert.Equal(t, SourceConclusion, res.AnswerSource)
}

func TestRun_CriticalFailureAborts(t *testing.T) {
	cfg := threePhaseMethod(t)
	cfg.Orchestration.CriticalPhases = []string{"synthesis"}
	require.NoError(t, cfg.Prepare())

	gen := newGenerator(scenarioA)
	gen.replies["synthesis"] = []reply{{text: "I cannot answer in JSON, sorry."}}
	o := newTestOrchestrator(t, cfg, Deps{Generator: gen})

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, RunAborted, res.Status)
	assert.Equal(t, "synthesis", res.AbortedAt)
	require.Len(t, res.Phases, 2)
	assert.Equal(t, pipeline.StatusSuccess, res.Phases[0].Status)
	assert.Equal(t, pipeline.StatusFailed, res.Phases[1].Status)
	assert.Equal(t, "invalid_json", res.Phases[1].Output["error"])
	assert.NotContains(t, gen.models(), "conclusion")

	assert.Equal(t, FallbackAnswer, res.Answer)
	assert.Equal(t, SourceFallback, res.AnswerSource)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9, "mean of phases carrying confidence")
}

func TestRun_NonCriticalFailureDoesNotAbort(t *testing.T) {
	gen := newGenerator(scenarioA)
	gen.replies["hypothesis"] = []reply{{text: "not json"}}
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: gen})

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.Len(t, res.Phases, 3)
}

func TestRun_EmptyQuery(t *testing.T) {
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: newGenerator(scenarioA)})
	_, err := o.Run(context.Background(), Request{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil, Deps{})
	assert.ErrorIs(t, err, method.ErrConfigInvalid)
}

func TestRun_RetrievalPassagesReachPrompts(t *testing.T) {
	var searched string
	retriever := rag.RetrieverFunc(func(_ context.Context, q string) ([]rag.Passage, error) {
		searched = q
		return []rag.Passage{{ID: "p1", Content: "Blue light scatters more strongly.", Score: 0.8}}, nil
	})
	gen := newGenerator(scenarioA)
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: gen, Retriever: retriever})

	res, err := o.Run(context.Background(), Request{Query: "Why is the sky blue?"})
	require.NoError(t, err)
	assert.Equal(t, "Why is the sky blue?", searched)
	require.Len(t, res.RAGResults, 1)
	assert.False(t, res.RAGDegraded)
	assert.Contains(t, gen.calls[0].Prompt, "Blue light scatters more strongly.")
}

func TestRun_RetrievalFailureDegrades(t *testing.T) {
	retriever := rag.RetrieverFunc(func(context.Context, string) ([]rag.Passage, error) {
		return nil, errors.New("vector store down")
	})
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: newGenerator(scenarioA), Retriever: retriever})

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.True(t, res.RAGDegraded)
	require.Len(t, res.RAGResults, 1)
	assert.Equal(t, "rag-degraded", res.RAGResults[0].ID)
}

func TestRun_EnricherRewritesRetrievalQuery(t *testing.T) {
	var searched string
	retriever := rag.RetrieverFunc(func(_ context.Context, q string) ([]rag.Passage, error) {
		searched = q
		return nil, nil
	})
	enricher := QueryEnricherFunc(func(_ context.Context, q string, md map[string]any) (string, error) {
		return q + " (domain: " + md["domain"].(string) + ")", nil
	})
	o := newTestOrchestrator(t, threePhaseMethod(t),
		Deps{Generator: newGenerator(scenarioA), Retriever: retriever},
		WithEnricher(enricher),
	)

	res, err := o.Run(context.Background(), Request{Query: "sky color", Metadata: map[string]any{"domain": "physics"}})
	require.NoError(t, err)
	assert.Equal(t, "sky color (domain: physics)", searched)
	assert.Equal(t, "sky color", res.Query)
}

func TestRun_EnricherFailureKeepsQuery(t *testing.T) {
	var searched string
	retriever := rag.RetrieverFunc(func(_ context.Context, q string) ([]rag.Passage, error) {
		searched = q
		return nil, nil
	})
	logger := logging.NewTestLogger()
	o := newTestOrchestrator(t, threePhaseMethod(t),
		Deps{Generator: newGenerator(scenarioA), Retriever: retriever},
		WithEnricher(QueryEnricherFunc(func(context.Context, string, map[string]any) (string, error) {
			return "", errors.New("enricher offline")
		})),
		WithLogger(logger.Logger),
	)

	_, err := o.Run(context.Background(), Request{Query: "sky color"})
	require.NoError(t, err)
	assert.Equal(t, "sky color", searched)
	logger.AssertLogged(t, zapcore.WarnLevel, "query enrichment failed")
}

type panickingAdapter struct{}

func (panickingAdapter) Execute(context.Context, *method.Phase, *pipeline.RunContext) (*pipeline.PhaseResult, error) {
	panic("adapter bug")
}

func TestRun_AdapterPanicBecomesFailedPhase(t *testing.T) {
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{}, WithAdapter(method.ExecutorStandard, panickingAdapter{}))

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, res.Phases, 3)
	for _, pr := range res.Phases {
		assert.Equal(t, pipeline.StatusFailed, pr.Status)
		assert.Contains(t, pr.Output["error"], "adapter bug")
	}
	assert.Equal(t, FallbackAnswer, res.Answer)
	assert.InDelta(t, phaseDefaultConfidence, res.Confidence, 1e-9)
}

const phaseDefaultConfidence = 0.5

func TestRun_CancelledBetweenPhases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := newGenerator(scenarioA)
	gen.onCall = func(req llm.Request) {
		if req.Model == "synthesis" {
			cancel()
		}
	}
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: gen})

	res, err := o.Run(ctx, Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, res.Status)
	require.Len(t, res.Phases, 2, "the phase in flight completes")
	assert.NotContains(t, gen.models(), "conclusion")
	assert.Empty(t, res.Answer)
}

// cancellingGenerator cancels the run when the synthesis call starts and then
// behaves like a real client: it gives up as soon as its context ends.
type cancellingGenerator struct {
	*routedGenerator
	cancel context.CancelFunc
}

func (g *cancellingGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	if req.Model == "synthesis" {
		g.cancel()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return g.routedGenerator.Generate(ctx, req)
}

func TestRun_CancelledPhaseInFlightFinishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &cancellingGenerator{routedGenerator: newGenerator(scenarioA), cancel: cancel}
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: gen})

	res, err := o.Run(ctx, Request{Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, RunCancelled, res.Status)
	require.Len(t, res.Phases, 2)
	assert.Equal(t, pipeline.StatusSuccess, res.Phases[1].Status)
	assert.Equal(t, "short wavelengths scatter more", res.Phases[1].Output["synthesis"])
	assert.NotContains(t, gen.models(), "conclusion")
}

func TestRun_CancelledDuringCriticalPhaseIsNotAborted(t *testing.T) {
	cfg := threePhaseMethod(t)
	cfg.Orchestration.CriticalPhases = []string{"synthesis"}
	require.NoError(t, cfg.Prepare())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &cancellingGenerator{routedGenerator: newGenerator(scenarioA), cancel: cancel}
	gen.replies["synthesis"] = []reply{{text: "not json"}}
	o := newTestOrchestrator(t, cfg, Deps{Generator: gen})

	res, err := o.Run(ctx, Request{Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, RunCancelled, res.Status)
	assert.Empty(t, res.AbortedAt)
	assert.Empty(t, res.Answer)
	assert.Empty(t, res.AnswerSource)
	require.Len(t, res.Phases, 2)
	assert.Equal(t, pipeline.StatusFailed, res.Phases[1].Status)
}

func TestRun_RecordsSpans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: newGenerator(scenarioA)},
		WithTracer(tt.Tracer("orchestrator-test")))

	_, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	assert.Len(t, tt.SpansNamed("orchestrator.phase"), 3)
	require.Len(t, tt.SpansNamed("orchestrator.run"), 1)
	tt.AssertSpanAttribute(t, "orchestrator.run", "run.status", "completed")
	tt.AssertSpanAttribute(t, "orchestrator.run", "method.id", "three")
}

// fakeSupervisor plans two agents for a single subquery and synthesizes a fixed answer.
type fakeSupervisor struct {
	mu          sync.Mutex
	synthesized []supervisor.AgentResult
	hint        supervisor.Complexity
}

func (f *fakeSupervisor) Decompose(_ context.Context, query string, _ map[string]any, hint supervisor.Complexity) ([]supervisor.Subquery, error) {
	f.mu.Lock()
	f.hint = hint
	f.mu.Unlock()
	return []supervisor.Subquery{{ID: "sq1", Query: query + " (physics)"}}, nil
}

func (f *fakeSupervisor) PlanAgents(context.Context, []supervisor.Subquery, any) (*supervisor.Plan, error) {
	return &supervisor.Plan{
		Parallel: []supervisor.Assignment{
			{AgentType: "physics", SubqueryID: "sq1", Confidence: 0.9},
			{AgentType: "chemistry", SubqueryID: "sq1", Confidence: 0.6},
		},
	}, nil
}

func (f *fakeSupervisor) Synthesize(_ context.Context, _ string, results []supervisor.AgentResult, _ any) (*supervisor.Synthesis, error) {
	f.mu.Lock()
	f.synthesized = results
	f.mu.Unlock()
	return &supervisor.Synthesis{Answer: "Agents agree: Rayleigh scattering.", Confidence: 0.88}, nil
}

func supervisorMethod(t *testing.T, enabled bool) *method.Config {
	return prepared(t, &method.Config{
		MethodID:          "supervised",
		SupervisorEnabled: enabled,
		Phases: []method.Phase{
			standardPhase("hypothesis", 1),
			{
				PhaseID:  "agent_selection",
				Executor: method.ExecutorSupervisor,
				Method:   method.MethodSelectAgents,
				InputMapping: map[string]string{
					"query":               "user_query",
					"missing_information": "phases.hypothesis.output.missing_information",
					"rag_results":         "rag_results",
				},
			},
			{
				PhaseID:  "agent_execution",
				Executor: method.ExecutorAgentCoordinator,
				InputMapping: map[string]string{
					"agent_plan":  "phases.agent_selection.agent_plan",
					"subqueries":  "phases.agent_selection.subqueries",
					"rag_results": "rag_results",
				},
			},
			{
				PhaseID:  "agent_synthesis",
				Executor: method.ExecutorSupervisor,
				Method:   method.MethodSynthesizeResults,
				InputMapping: map[string]string{
					"query":         "user_query",
					"agent_results": "phases.agent_execution.agent_results",
					"rag_results":   "rag_results",
				},
			},
			standardPhase("conclusion", 5),
		},
	})
}

var supervisedReplies = map[string]string{
	"hypothesis": `{"hypothesis": "Rayleigh scattering", "missing_information": ["a", "b", "c"], "confidence": 0.7}`,
	"conclusion": `{"main_answer": "Conclusion says Rayleigh.", "confidence": 0.93}`,
}

func TestRun_SupervisorStandInAgents(t *testing.T) {
	sup := &fakeSupervisor{}
	gen := newGenerator(supervisedReplies)
	o := newTestOrchestrator(t, supervisorMethod(t, true), Deps{Generator: gen, Supervisor: sup})

	res, err := o.Run(context.Background(), Request{Query: "Why is the sky blue?"})
	require.NoError(t, err)
	require.Len(t, res.Phases, 5)
	assert.Empty(t, res.SkippedPhases)

	sel, _ := res.PhaseResult("agent_selection")
	assert.Equal(t, pipeline.StatusSuccess, sel.Status)
	assert.Equal(t, supervisor.ComplexityStandard, sup.hint)

	exec, _ := res.PhaseResult("agent_execution")
	assert.Equal(t, pipeline.StatusSuccess, exec.Status)
	assert.Equal(t, "completed", exec.Output["status"])
	meta := exec.Output["execution_metadata"].(map[string]any)
	assert.Equal(t, 2, meta["total"])
	assert.Equal(t, 2, meta["successful"])
	assert.Equal(t, []string{"physics", "chemistry"}, meta["order"])

	assert.Len(t, sup.synthesized, 2)
	assert.Equal(t, "Agents agree: Rayleigh scattering.", res.Answer, "synthesis wins over conclusion")
	assert.Equal(t, SourceSynthesis, res.AnswerSource)
	assert.InDelta(t, 0.88, res.Confidence, 1e-9)
}

func TestRun_SupervisorDisabledSkipsConditionalPhases(t *testing.T) {
	sup := &fakeSupervisor{}
	gen := newGenerator(supervisedReplies)
	o := newTestOrchestrator(t, supervisorMethod(t, false), Deps{Generator: gen, Supervisor: sup})

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, []string{"hypothesis", "conclusion"}, o.PlannedPhases())
	assert.Equal(t, []string{"agent_selection", "agent_execution", "agent_synthesis"}, res.SkippedPhases)
	require.Len(t, res.Phases, 2)
	assert.Nil(t, sup.synthesized)
	assert.Equal(t, SourceConclusion, res.AnswerSource)
}

func TestRun_SupervisorUnavailableSkipsPhase(t *testing.T) {
	gen := newGenerator(supervisedReplies)
	o := newTestOrchestrator(t, supervisorMethod(t, true), Deps{Generator: gen})

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, res.Phases, 5)

	sel, _ := res.PhaseResult("agent_selection")
	assert.Equal(t, pipeline.StatusSkipped, sel.Status)
	assert.NotEmpty(t, sel.Output["reason"])

	exec, _ := res.PhaseResult("agent_execution")
	assert.Equal(t, pipeline.StatusPartial, exec.Status, "no plan to resolve")

	assert.Equal(t, "Conclusion says Rayleigh.", res.Answer)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)
}

func TestRun_ExcludeGate(t *testing.T) {
	gen := newGenerator(scenarioA)
	o := newTestOrchestrator(t, threePhaseMethod(t), Deps{Generator: gen}, WithGate(NewExcludeGate("synthesis")))

	res, err := o.Run(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hypothesis", "conclusion"}, gen.models())
	assert.Equal(t, []string{"synthesis"}, res.SkippedPhases)
}

func TestFinalAnswer(t *testing.T) {
	cfg := supervisorMethod(t, true)
	synth := &pipeline.PhaseResult{PhaseID: "agent_synthesis", Status: pipeline.StatusSuccess,
		Output: map[string]any{"answer": "from synthesis", "confidence": 0.6}}
	conclusion := &pipeline.PhaseResult{PhaseID: "conclusion", Status: pipeline.StatusPartial,
		Output: map[string]any{"answer": "from conclusion", "confidence": 0.9}}
	hypothesis := &pipeline.PhaseResult{PhaseID: "hypothesis", Status: pipeline.StatusSuccess,
		Output: map[string]any{"confidence": 0.4}}

	tests := []struct {
		name       string
		results    []*pipeline.PhaseResult
		answer     string
		confidence float64
		source     AnswerSource
	}{
		{"synthesis wins", []*pipeline.PhaseResult{hypothesis, synth, conclusion}, "from synthesis", 0.6, SourceSynthesis},
		{"conclusion fallback", []*pipeline.PhaseResult{hypothesis, conclusion}, "from conclusion", 0.9, SourceConclusion},
		{"mean confidence", []*pipeline.PhaseResult{hypothesis, {PhaseID: "x", Output: map[string]any{"confidence": 0.8}}}, FallbackAnswer, 0.6, SourceFallback},
		{"default confidence", []*pipeline.PhaseResult{{PhaseID: "x", Output: map[string]any{}}}, FallbackAnswer, 0.3, SourceFallback},
		{"failed synthesis ignored", []*pipeline.PhaseResult{
			{PhaseID: "agent_synthesis", Status: pipeline.StatusFailed, Output: map[string]any{"answer": "stale", "error": "x"}},
			conclusion,
		}, "from conclusion", 0.9, SourceConclusion},
		{"conclusion key order", []*pipeline.PhaseResult{{PhaseID: "conclusion", Status: pipeline.StatusSuccess,
			Output: map[string]any{"conclusion": "third", "main_answer": "first"}}}, "first", 0.3, SourceConclusion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, confidence, source := finalAnswer(cfg, tt.results, 0.3)
			assert.Equal(t, tt.answer, answer)
			assert.InDelta(t, tt.confidence, confidence, 1e-9)
			assert.Equal(t, tt.source, source)
		})
	}
}
