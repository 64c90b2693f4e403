package plan

import (
	"fmt"

	"github.com/Strob0t/QuantForge/internal/domain/worker"
)

// Validate checks structural invariants of a plan before it is accepted:
// at least one step, contiguous step numbers starting at 1, and a known
// worker role on every step.
func (p *Plan) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("plan: session_id is required")
	}
	if p.Version < 1 {
		return fmt.Errorf("plan: version must be >= 1, got %d", p.Version)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan: at least one step is required")
	}
	for i, s := range p.Steps {
		if s.StepNumber != i+1 {
			return fmt.Errorf("plan: step %d has number %d, want %d", i, s.StepNumber, i+1)
		}
		if s.Objective == "" {
			return fmt.Errorf("plan: step %d has empty objective", s.StepNumber)
		}
		if _, err := worker.Parse(string(s.Role)); err != nil {
			return fmt.Errorf("plan: step %d: %w", s.StepNumber, err)
		}
	}
	return nil
}
