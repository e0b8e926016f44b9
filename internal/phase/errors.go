package phase

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLLMCallFailed is returned after every retry of a phase's LLM call failed.
	ErrLLMCallFailed = errors.New("llm call failed")

	// ErrUnknownPhase matches *UnknownPhaseError.
	ErrUnknownPhase = errors.New("unknown phase")
)

// UnknownPhaseError reports a phase id missing from the loaded method.
type UnknownPhaseError struct {
	PhaseID string
	Known   []string
}

func (e *UnknownPhaseError) Error() string {
	return fmt.Sprintf("unknown phase %q; configured phases: %s", e.PhaseID, strings.Join(e.Known, ", "))
}

// Is lets errors.Is(err, ErrUnknownPhase) match.
func (e *UnknownPhaseError) Is(target error) bool {
	return target == ErrUnknownPhase
}
