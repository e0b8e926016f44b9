package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/llm"
	"github.com/makr-code/VCC-Veritas-sub002/internal/phase"
)

// fallbackConfidence is assigned to free-text replies that carry no JSON.
const fallbackConfidence = 0.5

// LLMRunnerConfig configures LLMRunner.
type LLMRunnerConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// LLMRunner runs every agent type as a prompted model call.
type LLMRunner struct {
	gen llm.Generator
	cfg LLMRunnerConfig
}

// NewLLMRunner creates a Runner backed by gen.
func NewLLMRunner(gen llm.Generator, cfg LLMRunnerConfig) *LLMRunner {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &LLMRunner{gen: gen, cfg: cfg}
}

// Run implements Runner.
func (r *LLMRunner) Run(ctx context.Context, agentType, query string, ragContext any, subqueryID string) (*Output, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s specialist agent of a research team.\n\n", strings.ReplaceAll(agentType, "_", " "))
	fmt.Fprintf(&b, "Question: %s\n", query)
	if ragContext != nil {
		if ctxJSON, err := json.Marshal(ragContext); err == nil {
			fmt.Fprintf(&b, "Retrieved context: %s\n", ctxJSON)
		}
	}
	b.WriteString("\nAnswer from your specialty. Reply with JSON only:\n")
	b.WriteString(`{"summary": "...", "confidence": 0.0, "sources": ["..."], "details": {}}`)

	raw, err := r.gen.Generate(ctx, llm.Request{
		Model:       r.cfg.Model,
		Prompt:      b.String(),
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		Timeout:     r.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s (%s): %w", agentType, subqueryID, err)
	}

	var out Output
	if err := phase.DecodeJSON(raw, &out); err != nil || out.Summary == "" {
		return &Output{
			Summary:    strings.TrimSpace(raw),
			Confidence: fallbackConfidence,
			Sources:    []string{},
		}, nil
	}
	if out.Sources == nil {
		out.Sources = []string{}
	}
	switch {
	case out.Confidence < 0:
		out.Confidence = 0
	case out.Confidence > 1:
		out.Confidence = 1
	}
	return &out, nil
}
