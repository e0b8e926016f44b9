package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/makr-code/VCC-Veritas-sub002/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replyGenerator struct {
	reply string
	err   error
	last  llm.Request
}

func (g *replyGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.last = req
	return g.reply, g.err
}

func TestLLMRunner_DecodesStructuredReply(t *testing.T) {
	gen := &replyGenerator{reply: `{"summary": "Blue light scatters most.", "confidence": 0.8, "sources": ["rayleigh.md"]}`}
	r := NewLLMRunner(gen, LLMRunnerConfig{Model: "agent-model"})

	out, err := r.Run(context.Background(), "data_analysis", "Why blue?", []any{"passage"}, "sq1")
	require.NoError(t, err)
	assert.Equal(t, "Blue light scatters most.", out.Summary)
	assert.Equal(t, 0.8, out.Confidence)
	assert.Equal(t, []string{"rayleigh.md"}, out.Sources)

	assert.Equal(t, "agent-model", gen.last.Model)
	assert.Contains(t, gen.last.Prompt, "data analysis specialist")
	assert.Contains(t, gen.last.Prompt, `["passage"]`)
}

func TestLLMRunner_FreeTextFallback(t *testing.T) {
	r := NewLLMRunner(&replyGenerator{reply: "  Short wavelengths scatter.  "}, LLMRunnerConfig{})

	out, err := r.Run(context.Background(), "literature", "q", nil, "sq1")
	require.NoError(t, err)
	assert.Equal(t, "Short wavelengths scatter.", out.Summary)
	assert.Equal(t, fallbackConfidence, out.Confidence)
	assert.Empty(t, out.Sources)
}

func TestLLMRunner_ClampsConfidence(t *testing.T) {
	r := NewLLMRunner(&replyGenerator{reply: `{"summary": "x", "confidence": -2}`}, LLMRunnerConfig{})

	out, err := r.Run(context.Background(), "literature", "q", nil, "sq1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Confidence)
}

func TestLLMRunner_GeneratorError(t *testing.T) {
	r := NewLLMRunner(&replyGenerator{err: errors.New("rate limited")}, LLMRunnerConfig{})

	_, err := r.Run(context.Background(), "literature", "q", nil, "sq7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sq7")
	assert.Contains(t, err.Error(), "rate limited")
}
