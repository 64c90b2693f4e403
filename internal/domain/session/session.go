// Package session defines the Session domain entity: one end-to-end run of
// the research workflow for a single user goal.
package session

import "time"

// Phase represents the current state of a session's lifecycle.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
	PhaseRefining  Phase = "refining"
	PhaseReporting Phase = "reporting"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
	PhaseEscalated Phase = "escalated"
)

// IsTerminal returns true if the phase is final. Terminal phases are never
// left once entered.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseDone, PhaseFailed, PhaseEscalated:
		return true
	}
	return false
}

// next maps each non-terminal phase to the phases it may legally enter.
var next = map[Phase][]Phase{
	PhaseInit:      {PhasePlanning, PhaseFailed},
	PhasePlanning:  {PhaseExecuting, PhaseFailed, PhaseEscalated},
	PhaseExecuting: {PhaseExecuting, PhasePlanning, PhaseRefining, PhaseReporting, PhaseFailed, PhaseEscalated},
	PhaseRefining:  {PhaseExecuting, PhaseReporting, PhaseFailed, PhaseEscalated},
	PhaseReporting: {PhaseDone, PhaseFailed, PhaseEscalated},
}

// CanTransition reports whether moving from p to to is a legal transition.
func (p Phase) CanTransition(to Phase) bool {
	for _, n := range next[p] {
		if n == to {
			return true
		}
	}
	return false
}

// Session represents one workflow run. The struct is a cache of what the
// workspace store holds; it must always be reconstructible from artifacts.
type Session struct {
	ID          string    `json:"id"`
	Goal        string    `json:"goal"`
	Phase       Phase     `json:"phase"`
	PlanVersion int       `json:"plan_version"` // 0 = no plan yet
	Workspace   string    `json:"workspace"`    // directory name under the workspace root
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to open a new session.
type CreateRequest struct {
	Goal string `json:"goal"`
}

// TransitionEvent is the record emitted to subscribers whenever a session
// changes phase.
type TransitionEvent struct {
	SessionID string    `json:"session_id"`
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}
