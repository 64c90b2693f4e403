// Package plan defines the Plan domain entity: an ordered decomposition of
// a session goal into executable steps.
package plan

import (
	"time"

	"github.com/Strob0t/QuantForge/internal/domain/worker"
)

// StepStatus represents the lifecycle state of an individual plan step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusActive  StepStatus = "active"
	StepStatusDone    StepStatus = "done"
	StepStatusFailed  StepStatus = "failed"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusDone || s == StepStatusFailed
}

// Step is one unit of work in a plan. StepNumber is unique within a plan
// version and numbering starts at 1.
type Step struct {
	StepNumber int         `json:"step_number"`
	Objective  string      `json:"objective"`
	Role       worker.Role `json:"role"`
	Status     StepStatus  `json:"status"`
}

// Plan is one immutable version of a goal decomposition. Replanning
// produces a new version; prior versions are retained for audit and never
// mutated in the workspace.
type Plan struct {
	SessionID string    `json:"session_id"`
	Version   int       `json:"version"`
	Goal      string    `json:"goal"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// NextActionable returns the lowest-numbered step that still needs work,
// or nil when every step is done. Failed steps are actionable: retry and
// replan decisions hang off them.
func (p *Plan) NextActionable() *Step {
	for i := range p.Steps {
		if p.Steps[i].Status != StepStatusDone {
			return &p.Steps[i]
		}
	}
	return nil
}

// Remaining returns the steps whose objectives are still unmet. A replan
// covers exactly these.
func (p *Plan) Remaining() []Step {
	var out []Step
	for _, s := range p.Steps {
		if s.Status != StepStatusDone {
			out = append(out, s)
		}
	}
	return out
}

// Complete reports whether every step reached done.
func (p *Plan) Complete() bool {
	for _, s := range p.Steps {
		if s.Status != StepStatusDone {
			return false
		}
	}
	return len(p.Steps) > 0
}
