package orchestrator

import (
	"strings"

	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/pipeline"
)

// conclusionPhaseID is the standard phase whose answer backs up synthesis.
const conclusionPhaseID = "conclusion"

// conclusionAnswerKeys are read from the conclusion output in order.
var conclusionAnswerKeys = []string{"main_answer", "answer", "conclusion"}

// finalAnswer picks the answer and confidence of a run. A supervisor synthesis
// answer wins over the conclusion's main answer, which wins over the fallback.
// Confidence follows the same order, then the mean of every phase output that
// carries a confidence, then def.
func finalAnswer(cfg *method.Config, results []*pipeline.PhaseResult, def float64) (string, float64, AnswerSource) {
	synth := synthesisResult(cfg, results)
	conclusion := usable(findResult(results, conclusionPhaseID))

	answer, source := FallbackAnswer, SourceFallback
	if a := stringField(synth, "answer"); a != "" {
		answer, source = a, SourceSynthesis
	} else if a := firstString(conclusion, conclusionAnswerKeys); a != "" {
		answer, source = a, SourceConclusion
	}

	for _, pr := range []*pipeline.PhaseResult{synth, conclusion} {
		if pr == nil {
			continue
		}
		if c, ok := pipeline.OutputConfidence(pr.Output); ok {
			return answer, c, source
		}
	}

	var sum float64
	var n int
	for _, pr := range results {
		if c, ok := pipeline.OutputConfidence(pr.Output); ok {
			sum += c
			n++
		}
	}
	if n == 0 {
		return answer, def, source
	}
	return answer, sum / float64(n), source
}

func synthesisResult(cfg *method.Config, results []*pipeline.PhaseResult) *pipeline.PhaseResult {
	for _, pr := range results {
		p, ok := cfg.Phase(pr.PhaseID)
		if !ok || p.Executor != method.ExecutorSupervisor || p.Method != method.MethodSynthesizeResults {
			continue
		}
		if u := usable(pr); u != nil {
			return u
		}
	}
	return nil
}

func findResult(results []*pipeline.PhaseResult, phaseID string) *pipeline.PhaseResult {
	for _, pr := range results {
		if pr.PhaseID == phaseID {
			return pr
		}
	}
	return nil
}

// usable drops failed and skipped results.
func usable(pr *pipeline.PhaseResult) *pipeline.PhaseResult {
	if pr == nil {
		return nil
	}
	if pr.Status == pipeline.StatusSuccess || pr.Status == pipeline.StatusPartial {
		return pr
	}
	return nil
}

func stringField(pr *pipeline.PhaseResult, key string) string {
	if pr == nil {
		return ""
	}
	s, _ := pr.Output[key].(string)
	return strings.TrimSpace(s)
}

func firstString(pr *pipeline.PhaseResult, keys []string) string {
	for _, k := range keys {
		if s := stringField(pr, k); s != "" {
			return s
		}
	}
	return ""
}
