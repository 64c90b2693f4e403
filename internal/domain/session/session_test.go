package session

import "testing"

func TestPhaseIsTerminal(t *testing.T) {
	terminal := map[Phase]bool{
		PhaseInit:      false,
		PhasePlanning:  false,
		PhaseExecuting: false,
		PhaseRefining:  false,
		PhaseReporting: false,
		PhaseDone:      true,
		PhaseFailed:    true,
		PhaseEscalated: true,
	}
	for phase, want := range terminal {
		if got := phase.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", phase, got, want)
		}
	}
}

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseInit, PhasePlanning, true},
		{PhasePlanning, PhaseExecuting, true},
		{PhaseExecuting, PhaseExecuting, true}, // next step
		{PhaseExecuting, PhasePlanning, true},  // replan
		{PhaseExecuting, PhaseRefining, true},
		{PhaseRefining, PhaseReporting, true},
		{PhaseReporting, PhaseDone, true},
		{PhaseExecuting, PhaseEscalated, true},
		{PhaseInit, PhaseDone, false},
		{PhasePlanning, PhaseRefining, false},
		{PhaseDone, PhasePlanning, false}, // terminal phases are never left
		{PhaseFailed, PhaseExecuting, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
