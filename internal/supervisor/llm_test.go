package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/makr-code/VCC-Veritas-sub002/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *cannedGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.prompts = append(g.prompts, req.Prompt)
	return g.reply, g.err
}

func TestLLM_Decompose(t *testing.T) {
	gen := &cannedGenerator{reply: "```json\n{\"subqueries\": [{\"id\": \"a\", \"query\": \"What scatters light?\"}, {\"query\": \"Why blue?\"}]}\n```"}
	s := NewLLM(gen, LLMConfig{Model: "planner"}, nil)

	subs, err := s.Decompose(context.Background(), "Why is the sky blue?", map[string]any{"level": "school"}, ComplexityComplex)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "a", subs[0].ID)
	assert.Equal(t, "sq2", subs[1].ID)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "3 to 5 subqueries")
	assert.Contains(t, gen.prompts[0], `"level":"school"`)
}

func TestLLM_DecomposeFallsBackOnGarbage(t *testing.T) {
	s := NewLLM(&cannedGenerator{reply: "I would rather not."}, LLMConfig{}, nil)

	subs, err := s.Decompose(context.Background(), "q", nil, ComplexitySimple)
	require.NoError(t, err)
	assert.Equal(t, []Subquery{{ID: "sq1", Query: "q"}}, subs)
}

func TestLLM_DecomposeGeneratorError(t *testing.T) {
	s := NewLLM(&cannedGenerator{err: errors.New("boom")}, LLMConfig{}, nil)

	_, err := s.Decompose(context.Background(), "q", nil, ComplexitySimple)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestLLM_NilGeneratorIsUnavailable(t *testing.T) {
	s := NewLLM(nil, LLMConfig{}, nil)

	_, err := s.Decompose(context.Background(), "q", nil, ComplexitySimple)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLLM_PlanAgents(t *testing.T) {
	gen := &cannedGenerator{reply: `{"parallel_assignments": [
		{"agent_type": "literature", "subquery_id": "sq1", "confidence": 0.9},
		{"agent_type": "astrology", "subquery_id": "sq2", "confidence": 0.9}
	]}`}
	s := NewLLM(gen, LLMConfig{}, nil)

	plan, err := s.PlanAgents(context.Background(), []Subquery{{ID: "sq1", Query: "a"}, {ID: "sq2", Query: "b"}}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Parallel, 1)
	assert.Equal(t, "literature", plan.Parallel[0].AgentType)
	assert.Equal(t, []string{}, plan.Parallel[0].MatchingCapabilities)
	assert.Contains(t, gen.prompts[0], "literature, data_analysis, fact_check")
}

func TestLLM_PlanAgentsFallback(t *testing.T) {
	s := NewLLM(&cannedGenerator{reply: "{}"}, LLMConfig{AgentTypes: []string{"generalist"}}, nil)

	plan, err := s.PlanAgents(context.Background(), []Subquery{{ID: "sq1", Query: "a"}, {ID: "sq2", Query: "b"}}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Parallel, 2)
	assert.Equal(t, "generalist", plan.Parallel[1].AgentType)
	assert.Equal(t, "sq2", plan.Parallel[1].SubqueryID)
	assert.Equal(t, "b", plan.Parallel[1].Query)
}

func TestLLM_Synthesize(t *testing.T) {
	gen := &cannedGenerator{reply: `{"answer": "Rayleigh scattering.", "confidence": 1.4}`}
	s := NewLLM(gen, LLMConfig{}, nil)

	syn, err := s.Synthesize(context.Background(), "q", []AgentResult{{AgentType: "literature", Summary: "scattering"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Rayleigh scattering.", syn.Answer)
	assert.Equal(t, 1.0, syn.Confidence)
	assert.Equal(t, []Conflict{}, syn.Conflicts)
	assert.Contains(t, gen.prompts[0], `"summary":"scattering"`)
}

func TestLLM_SynthesizeRejectsGarbage(t *testing.T) {
	s := NewLLM(&cannedGenerator{reply: "no json here"}, LLMConfig{}, nil)

	_, err := s.Synthesize(context.Background(), "q", nil, nil)
	assert.Error(t, err)
}
