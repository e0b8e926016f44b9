// Package phase executes standard (LLM-backed) method phases.
//
// A phase execution builds a prompt from the phase's template and the run so far,
// calls the LLM with temperature decay and exponential backoff, then parses the
// reply into a JSON object and checks it against the phase's output schema.
// Schema violations are recorded on the result; the parsed payload is kept.
package phase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/llm"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/pipeline"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultRetryBaseDelay is the backoff before the first retry.
	DefaultRetryBaseDelay = time.Second

	// DefaultConfidence is used when a payload carries no confidence.
	DefaultConfidence = 0.5

	backoffFactor = 1.5
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs the standard phases of one method.
type Executor struct {
	cfg     *method.Config
	prompts method.PromptSource
	gen     llm.Generator
	logger  *logging.Logger

	retryBaseDelay    time.Duration
	defaultConfidence float64
	sleep             SleepFunc

	mu          sync.Mutex
	promptCache map[string]*method.PromptTemplate
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetryBaseDelay sets the backoff base delay.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.retryBaseDelay = d
		}
	}
}

// WithDefaultConfidence sets the confidence used when a payload has none.
func WithDefaultConfidence(c float64) Option {
	return func(e *Executor) { e.defaultConfidence = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(s SleepFunc) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// NewExecutor creates an executor for a prepared method config.
func NewExecutor(cfg *method.Config, prompts method.PromptSource, gen llm.Generator, opts ...Option) *Executor {
	e := &Executor{
		cfg:               cfg,
		prompts:           prompts,
		gen:               gen,
		logger:            logging.NewNop(),
		retryBaseDelay:    DefaultRetryBaseDelay,
		defaultConfidence: DefaultConfidence,
		sleep:             sleepContext,
		promptCache:       make(map[string]*method.PromptTemplate),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("phase")
	return e
}

// Config returns the method the executor was built for.
func (e *Executor) Config() *method.Config {
	return e.cfg
}

func (e *Executor) phase(phaseID string) (*method.Phase, error) {
	p, ok := e.cfg.Phase(phaseID)
	if !ok {
		return nil, &UnknownPhaseError{PhaseID: phaseID, Known: e.cfg.PhaseIDs()}
	}
	return p, nil
}

// LoadPhasePrompt resolves the template a phase references. Results are cached
// for the executor's lifetime.
func (e *Executor) LoadPhasePrompt(phaseID string) (*method.PromptTemplate, error) {
	p, err := e.phase(phaseID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.promptCache[phaseID]; ok {
		return t, nil
	}
	if e.prompts == nil {
		return nil, fmt.Errorf("%w: %q (no prompt source)", method.ErrPromptNotFound, p.PromptTemplate)
	}
	t, err := e.prompts.LoadPrompt(p.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("phase %s: %w", phaseID, err)
	}
	e.promptCache[phaseID] = t
	return t, nil
}

// CallWithRetry calls the LLM up to MaxRetries+1 times. Attempt i runs at
// Temperature × TemperatureAdjustment^i and a failed attempt waits
// retryBaseDelay × 1.5^i before the next one. No attempt starts after the run
// is cancelled. It returns the raw text and the index of the successful attempt.
func (e *Executor) CallWithRetry(ctx context.Context, p *method.Phase, prompt string) (string, int, error) {
	if e.gen == nil {
		return "", 0, fmt.Errorf("%w: phase %s: no llm client configured", ErrLLMCallFailed, p.PhaseID)
	}

	span := trace.SpanFromContext(ctx)
	timeout := p.Execution.Timeout.Duration()
	maxRetries := p.RetryPolicy.MaxRetries

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		temp := Temperature(p.Execution.Temperature, p.RetryPolicy.TemperatureAdjustment, attempt)

		raw, err := e.attempt(ctx, llm.Request{
			Model:       p.Execution.Model,
			Prompt:      prompt,
			Temperature: temp,
			MaxTokens:   p.Execution.MaxTokens,
			Timeout:     timeout,
		})
		if err == nil {
			llmAttempts.WithLabelValues(p.PhaseID, "ok").Inc()
			return raw, attempt, nil
		}

		lastErr = err
		llmAttempts.WithLabelValues(p.PhaseID, "error").Inc()
		span.AddEvent("llm.attempt_failed", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Float64("temperature", temp),
			attribute.String("error", err.Error()),
		))
		e.logger.Warn(ctx, "llm attempt failed",
			zap.String("phase_id", p.PhaseID),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Float64("temperature", temp),
			zap.Error(err),
		)

		if pipeline.RunErr(ctx) != nil {
			break
		}
		if attempt < maxRetries {
			if err := e.sleep(ctx, Backoff(e.retryBaseDelay, attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}
	return "", maxRetries, fmt.Errorf("%w: phase %s: %w", ErrLLMCallFailed, p.PhaseID, lastErr)
}

// attempt runs one call bounded by the phase timeout. Only the attempt's context
// expires; ctx stays live for the next retry.
func (e *Executor) attempt(ctx context.Context, req llm.Request) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	return e.gen.Generate(ctx, req)
}

// ExecutePhase runs one standard phase against rc. An unconfigured phase id is
// the only condition reported as *UnknownPhaseError; prompt and LLM failures are
// returned as errors, and output problems are carried in the result.
func (e *Executor) ExecutePhase(ctx context.Context, phaseID string, rc *pipeline.RunContext) (*pipeline.PhaseResult, error) {
	p, err := e.phase(phaseID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithPhaseID(ctx, phaseID)
	start := time.Now()

	prompt, err := e.ConstructPrompt(phaseID, rc)
	if err != nil {
		return nil, err
	}

	raw, retries, err := e.CallWithRetry(ctx, p, prompt)
	if err != nil {
		return nil, err
	}

	payload, validationErrs := e.ParseAndValidate(phaseID, raw)

	status := pipeline.StatusSuccess
	if _, failed := payload["error"]; failed {
		status = pipeline.StatusFailed
	} else if len(validationErrs) > 0 {
		status = pipeline.StatusPartial
	}
	parseOutcomes.WithLabelValues(phaseID, string(status)).Inc()

	result := &pipeline.PhaseResult{
		PhaseID:          phaseID,
		Status:           status,
		Output:           payload,
		Confidence:       pipeline.ConfidenceOr(payload, e.defaultConfidence),
		ExecutionTime:    time.Since(start),
		RetryCount:       retries,
		ValidationErrors: validationErrs,
		RawOutput:        raw,
	}

	e.logger.Debug(ctx, "phase executed",
		zap.String("status", string(status)),
		zap.Int("retry_count", retries),
		zap.Int("validation_errors", len(validationErrs)),
		zap.Duration("duration", result.ExecutionTime),
	)
	return result, nil
}

// Execute implements pipeline.Adapter.
func (e *Executor) Execute(ctx context.Context, p *method.Phase, rc *pipeline.RunContext) (*pipeline.PhaseResult, error) {
	return e.ExecutePhase(ctx, p.PhaseID, rc)
}

// Temperature returns base × decay^attempt.
func Temperature(base, decay float64, attempt int) float64 {
	return base * math.Pow(decay, float64(attempt))
}

// Backoff returns base × 1.5^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(backoffFactor, float64(attempt)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
