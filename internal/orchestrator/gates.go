package orchestrator

import (
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
)

// PhaseGate decides before a run starts whether a configured phase takes part
// in it. A closed gate skips the phase entirely: it is not executed, recorded
// or reported.
type PhaseGate interface {
	// Name returns the gate identifier
	Name() string

	// Allow reports whether phase runs, with a reason when it does not.
	Allow(cfg *method.Config, phase *method.Phase) (bool, string)
}

// SupervisorGate closes conditional phases when the method has supervisor mode off.
type SupervisorGate struct{}

// NewSupervisorGate creates a new supervisor-mode gate
func NewSupervisorGate() *SupervisorGate {
	return &SupervisorGate{}
}

// Name returns the gate identifier
func (g *SupervisorGate) Name() string {
	return "supervisor-mode"
}

// Allow implements PhaseGate.
func (g *SupervisorGate) Allow(cfg *method.Config, phase *method.Phase) (bool, string) {
	if phase.Executor.Conditional() && !cfg.SupervisorEnabled {
		return false, "supervisor mode disabled"
	}
	return true, ""
}

// ExcludeGate closes an explicit set of phase ids.
type ExcludeGate struct {
	ids map[string]struct{}
}

// NewExcludeGate creates a gate that skips the given phase ids
func NewExcludeGate(phaseIDs ...string) *ExcludeGate {
	ids := make(map[string]struct{}, len(phaseIDs))
	for _, id := range phaseIDs {
		ids[id] = struct{}{}
	}
	return &ExcludeGate{ids: ids}
}

// Name returns the gate identifier
func (g *ExcludeGate) Name() string {
	return "exclude-phases"
}

// Allow implements PhaseGate.
func (g *ExcludeGate) Allow(_ *method.Config, phase *method.Phase) (bool, string) {
	if _, ok := g.ids[phase.PhaseID]; ok {
		return false, "excluded"
	}
	return true, ""
}

// SkippedPhase is a configured phase a gate closed.
type SkippedPhase struct {
	PhaseID string
	Gate    string
	Reason  string
}

// plan returns the phases that run, in config order, and those the gates closed.
func plan(cfg *method.Config, gates []PhaseGate) ([]*method.Phase, []SkippedPhase) {
	var run []*method.Phase
	var skipped []SkippedPhase
next:
	for i := range cfg.Phases {
		p := &cfg.Phases[i]
		for _, g := range gates {
			if ok, reason := g.Allow(cfg, p); !ok {
				skipped = append(skipped, SkippedPhase{PhaseID: p.PhaseID, Gate: g.Name(), Reason: reason})
				continue next
			}
		}
		run = append(run, p)
	}
	return run, skipped
}
