package phase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/pipeline"
)

// contextPhases are the standard phases whose outputs feed later prompts, in render order.
var contextPhases = []struct {
	id    string
	title string
}{
	{"hypothesis", "Hypothesis"},
	{"synthesis", "Synthesis"},
	{"analysis", "Analysis"},
	{"validation", "Validation"},
}

// ConstructPrompt assembles the prompt for a standard phase. Sections always appear
// in the same order: header, instructions, required fields, quality guidelines,
// one example, then input data.
func (e *Executor) ConstructPrompt(phaseID string, rc *pipeline.RunContext) (string, error) {
	t, err := e.LoadPhasePrompt(phaseID)
	if err != nil {
		return "", err
	}
	return renderPrompt(t, rc), nil
}

func renderPrompt(t *method.PromptTemplate, rc *pipeline.RunContext) string {
	var b strings.Builder

	if t.Role != "" {
		fmt.Fprintf(&b, "# Role\n%s\n\n", strings.TrimSpace(t.Role))
	}
	if t.Task != "" {
		fmt.Fprintf(&b, "# Task\n%s\n\n", strings.TrimSpace(t.Task))
	}
	if t.Methodology != "" {
		fmt.Fprintf(&b, "# Methodology\n%s\n\n", strings.TrimSpace(t.Methodology))
	}

	if len(t.Instructions) > 0 {
		b.WriteString("# Instructions\n")
		for i, in := range t.Instructions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(in))
		}
		b.WriteString("\n")
	}

	if len(t.RequiredFields) > 0 {
		fmt.Fprintf(&b, "# Required Output\nRespond with a single JSON object containing these fields: %s.\n\n",
			strings.Join(t.RequiredFields, ", "))
	}

	if len(t.QualityGuidelines) > 0 {
		b.WriteString("# Quality Guidelines\n")
		for _, g := range t.QualityGuidelines {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(g))
		}
		b.WriteString("\n")
	}

	if len(t.Examples) > 0 {
		ex := t.Examples[0]
		fmt.Fprintf(&b, "# Example\nInput:\n%s\n\nOutput:\n%s\n\n", strings.TrimSpace(ex.Input), strings.TrimSpace(ex.Output))
	}

	b.WriteString("# Input Data\n")
	if rc == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "## User Query\n%s\n", rc.UserQuery)

	if rag, ok := renderJSON(rc.RAGResults()); ok {
		fmt.Fprintf(&b, "\n## RAG Results\n%s\n", rag)
	}
	for _, cp := range contextPhases {
		out, ok := rc.Phase(cp.id)
		if !ok {
			continue
		}
		if s, ok := renderJSON(out); ok {
			fmt.Fprintf(&b, "\n## %s\n%s\n", cp.title, s)
		}
	}
	return b.String()
}

// renderJSON formats v for a prompt. Nil and empty collections are omitted.
func renderJSON(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v), true
	}
	switch s := string(raw); s {
	case "null", "[]", "{}", `""`:
		return "", false
	default:
		return s, true
	}
}
