package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/stream"
)

// Lipgloss styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	answerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// statusStyle colors run, phase and health statuses.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "success", "healthy", "ok":
		return healthyStyle
	case "partial", "skipped", "cancelled", "degraded":
		return warningStyle
	default:
		return errorStyle
	}
}

func field(label string, value any) string {
	return labelStyle.Render(fmt.Sprintf("%-12s", label)) + " " + valueStyle.Render(fmt.Sprint(value)) + "\n"
}

func renderResult(res *queryResult) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("veritas "+res.MethodID) + " " + dimStyle.Render(res.RunID) + "\n\n")
	b.WriteString(answerStyle.Render(res.Answer) + "\n")
	b.WriteString(field("status", statusStyle(res.Status).Render(res.Status)))
	b.WriteString(field("confidence", fmt.Sprintf("%.2f", res.Confidence)))
	b.WriteString(field("source", res.AnswerSource))
	if res.AbortedAt != "" {
		b.WriteString(field("aborted at", errorStyle.Render(res.AbortedAt)))
	}
	if res.RAGDegraded {
		b.WriteString(field("retrieval", warningStyle.Render("degraded")))
	}
	if len(res.SkippedPhases) > 0 {
		b.WriteString(field("skipped", strings.Join(res.SkippedPhases, ", ")))
	}
	b.WriteString("\n")
	for _, p := range res.Phases {
		b.WriteString(renderPhase(p.PhaseID, p.Status, p.Confidence, p.ExecutionTime, p.RetryCount))
		for _, ve := range p.ValidationErrors {
			b.WriteString("    " + dimStyle.Render(ve) + "\n")
		}
	}
	return b.String()
}

func renderPhase(id, status string, confidence, seconds float64, retries int) string {
	line := fmt.Sprintf("  %-24s %s %s", id, statusStyle(status).Render(fmt.Sprintf("%-9s", status)),
		dimStyle.Render(fmt.Sprintf("conf %.2f  %.1fs", confidence, seconds)))
	if retries > 0 {
		line += dimStyle.Render(fmt.Sprintf("  retries %d", retries))
	}
	return line + "\n"
}

// renderEvent formats one stream event as a line. Processing steps are only
// shown when they complete.
func renderEvent(ev stream.Event) string {
	d := ev.Data
	switch ev.Kind {
	case stream.KindProgress:
		if stream.IsCancelled(ev) {
			return warningStyle.Render(fmt.Sprintf("%v", d["message"])) + "\n"
		}
		return dimStyle.Render(fmt.Sprintf("[%3v%%] %v", d["percentage"], d["message"])) + "\n"
	case stream.KindProcessingStep:
		if d["status"] != "completed" {
			return ""
		}
		return dimStyle.Render(fmt.Sprintf("       %v: %v passages", d["step"], d["passages"])) + "\n"
	case stream.KindPhaseComplete:
		return renderPhase(str(d["phase_id"]), str(d["status"]), num(d["confidence"]), num(d["execution_time"]), int(num(d["retry_count"])))
	case stream.KindFinalResult:
		var b strings.Builder
		b.WriteString("\n" + answerStyle.Render(str(d["answer"])) + "\n")
		b.WriteString(field("status", statusStyle(str(d["status"])).Render(str(d["status"]))))
		b.WriteString(field("confidence", fmt.Sprintf("%.2f", num(d["confidence"]))))
		b.WriteString(field("source", str(d["answer_source"])))
		return b.String()
	case stream.KindError:
		return errorStyle.Render(fmt.Sprintf("error: %v", d["error"])) + "\n"
	}
	return ""
}

func renderHealth(serverURL string, h *healthResponse) string {
	var b strings.Builder
	b.WriteString(field("status", statusStyle(h.Status).Render(h.Status)))
	b.WriteString(field("server", serverURL))
	if h.Version != "" {
		b.WriteString(field("version", h.Version))
	}
	b.WriteString(field("method", h.DefaultMethod))
	b.WriteString(field("events", h.Events))
	if h.Error != "" {
		b.WriteString(field("error", errorStyle.Render(h.Error)))
	}
	return b.String()
}

func renderMethod(path string, cfg *method.Config, planned []string) string {
	var b strings.Builder
	b.WriteString(healthyStyle.Render("ok") + " " + path + "\n")
	b.WriteString(field("method", cfg.MethodID))
	if cfg.Name != "" {
		b.WriteString(field("name", cfg.Name))
	}
	b.WriteString(field("supervisor", cfg.SupervisorEnabled))
	b.WriteString(field("phases", len(cfg.Phases)))
	b.WriteString(field("planned", strings.Join(planned, " > ")))
	for _, p := range cfg.Phases {
		tags := []string{string(p.Executor)}
		if cfg.IsCritical(p.PhaseID) {
			tags = append(tags, "critical")
		}
		if p.OutputSchema != nil {
			tags = append(tags, "schema")
		}
		b.WriteString(fmt.Sprintf("  %2d %-24s %s\n", p.PhaseNumber, p.PhaseID, dimStyle.Render(strings.Join(tags, ", "))))
	}
	return b.String()
}

func renderInvalid(path string, err error) string {
	return errorStyle.Render("invalid") + " " + path + "\n    " + err.Error() + "\n"
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}
