package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/llm"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/orchestrator"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMethod = `method_id: quick
name: Quick check
description: Two-step answer
orchestration_config:
  critical_phases: [hypothesis]
phases:
  - phase_id: hypothesis
    phase_number: 1
    execution: {model: hypothesis, temperature: 0.5}
  - phase_id: conclusion
    phase_number: 2
    execution: {model: conclusion, temperature: 0.2}
`

type modelReplies map[string]string

func (m modelReplies) Generate(_ context.Context, req llm.Request) (string, error) {
	text, ok := m[req.Model]
	if !ok {
		return "", fmt.Errorf("no reply for %s", req.Model)
	}
	return text, nil
}

func newTestEngine(t *testing.T, gen llm.Generator) *orchestrator.Engine {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"methods/quick.yaml":      testMethod,
		"prompts/hypothesis.yaml": "role: Scientist\ntask: Hypothesize.\n",
		"prompts/conclusion.yaml": "role: Judge\ntask: Conclude.\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	store := method.NewStore(filepath.Join(dir, "methods"), filepath.Join(dir, "prompts"), nil)
	return orchestrator.NewEngine(store, "quick", orchestrator.Deps{Generator: gen})
}

// connect wires a client session to s over in-memory transports.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := s.mcp.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func decodeStructured(t *testing.T, res *mcp.CallToolResult, out any) {
	t.Helper()
	require.NotNil(t, res.StructuredContent)
	b, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(nil, newTestEngine(t, modelReplies{
		"hypothesis": `{"hypothesis": "Rayleigh scattering", "confidence": 0.9}`,
		"conclusion": `{"main_answer": "Short wavelengths scatter more.", "confidence": 0.85}`,
	}))
	require.NoError(t, err)
	return s
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline is required")

	s, err := NewServer(&Config{}, newTestEngine(t, modelReplies{}))
	require.NoError(t, err)
	assert.NotNil(t, s.mcp)
	assert.NotNil(t, s.logger)
}

func TestServer_ListsTools(t *testing.T) {
	cs := connect(t, newTestServer(t))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{toolAsk, toolMethod}, names)
}

func TestVeritasAsk(t *testing.T) {
	cs := connect(t, newTestServer(t))
	ctx := context.Background()

	t.Run("returns the final answer", func(t *testing.T) {
		res, err := cs.CallTool(ctx, &mcp.CallToolParams{
			Name:      toolAsk,
			Arguments: map[string]any{"query": "Why is the sky blue?"},
		})
		require.NoError(t, err)
		require.False(t, res.IsError)

		var out askOutput
		decodeStructured(t, res, &out)
		assert.Equal(t, "quick", out.MethodID)
		assert.Equal(t, "completed", out.Status)
		assert.Equal(t, "Short wavelengths scatter more.", out.Answer)
		assert.Equal(t, 0.85, out.Confidence)
		assert.Equal(t, "conclusion", out.AnswerSource)
		require.Len(t, out.Phases, 2)
		assert.Equal(t, "hypothesis", out.Phases[0].PhaseID)
		assert.Equal(t, "success", out.Phases[0].Status)

		require.NotEmpty(t, res.Content)
		text, ok := res.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		assert.Contains(t, text.Text, "Short wavelengths scatter more.")
	})

	t.Run("blank query is a tool error", func(t *testing.T) {
		res, err := cs.CallTool(ctx, &mcp.CallToolParams{
			Name:      toolAsk,
			Arguments: map[string]any{"query": "  "},
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("unknown method is a tool error", func(t *testing.T) {
		res, err := cs.CallTool(ctx, &mcp.CallToolParams{
			Name:      toolAsk,
			Arguments: map[string]any{"query": "q", "method_id": "nope"},
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}

func TestVeritasAsk_AbortedRunStillAnswers(t *testing.T) {
	s, err := NewServer(nil, newTestEngine(t, modelReplies{
		"hypothesis": "not json at all",
		"conclusion": `{"main_answer": "unused"}`,
	}))
	require.NoError(t, err)
	cs := connect(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      toolAsk,
		Arguments: map[string]any{"query": "q"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out askOutput
	decodeStructured(t, res, &out)
	assert.Equal(t, "aborted", out.Status)
	assert.Equal(t, "hypothesis", out.AbortedAt)
	assert.Equal(t, "fallback", out.AnswerSource)
	require.Len(t, out.Phases, 1)
	assert.Equal(t, "failed", out.Phases[0].Status)
}

func TestVeritasMethod(t *testing.T) {
	cs := connect(t, newTestServer(t))

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      toolMethod,
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out methodOutput
	decodeStructured(t, res, &out)
	assert.Equal(t, "quick", out.MethodID)
	assert.Equal(t, "Quick check", out.Name)
	assert.Equal(t, []string{"hypothesis", "conclusion"}, out.PlannedPhases)
	require.Len(t, out.Phases, 2)
	assert.True(t, out.Phases[0].Critical)
	assert.False(t, out.Phases[1].Critical)
	assert.Equal(t, "standard", out.Phases[0].Executor)
}
