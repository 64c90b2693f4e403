package plan

import (
	"strings"
	"testing"

	"github.com/Strob0t/QuantForge/internal/domain/worker"
)

func validPlan() *Plan {
	return &Plan{
		SessionID: "s1",
		Version:   1,
		Goal:      "momentum strategy for AAPL",
		Steps: []Step{
			{StepNumber: 1, Objective: "gather research", Role: worker.RoleExecutor, Status: StepStatusPending},
			{StepNumber: 2, Objective: "refine a strategy", Role: worker.RoleSynthesizer, Status: StepStatusPending},
			{StepNumber: 3, Objective: "write the report", Role: worker.RoleWriter, Status: StepStatusPending},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Plan)
		wantErr string
	}{
		{name: "valid", mutate: func(*Plan) {}},
		{
			name:    "missing session",
			mutate:  func(p *Plan) { p.SessionID = "" },
			wantErr: "session_id",
		},
		{
			name:    "zero version",
			mutate:  func(p *Plan) { p.Version = 0 },
			wantErr: "version",
		},
		{
			name:    "no steps",
			mutate:  func(p *Plan) { p.Steps = nil },
			wantErr: "at least one step",
		},
		{
			name:    "non-contiguous numbering",
			mutate:  func(p *Plan) { p.Steps[1].StepNumber = 5 },
			wantErr: "want 2",
		},
		{
			name:    "numbering not starting at 1",
			mutate:  func(p *Plan) { p.Steps[0].StepNumber = 0 },
			wantErr: "want 1",
		},
		{
			name:    "empty objective",
			mutate:  func(p *Plan) { p.Steps[2].Objective = "" },
			wantErr: "empty objective",
		},
		{
			name:    "unknown role",
			mutate:  func(p *Plan) { p.Steps[0].Role = "wizard" },
			wantErr: "unknown worker role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNextActionable(t *testing.T) {
	p := validPlan()
	if got := p.NextActionable(); got == nil || got.StepNumber != 1 {
		t.Fatalf("NextActionable() = %v, want step 1", got)
	}

	p.Steps[0].Status = StepStatusDone
	if got := p.NextActionable(); got == nil || got.StepNumber != 2 {
		t.Fatalf("NextActionable() after step 1 done = %v, want step 2", got)
	}

	// Failed steps still need work: retries and replans hang off them.
	p.Steps[1].Status = StepStatusFailed
	if got := p.NextActionable(); got == nil || got.StepNumber != 2 {
		t.Fatalf("NextActionable() with failed step = %v, want step 2", got)
	}

	p.Steps[1].Status = StepStatusDone
	p.Steps[2].Status = StepStatusDone
	if got := p.NextActionable(); got != nil {
		t.Fatalf("NextActionable() with all done = %v, want nil", got)
	}
}

func TestCompleteAndRemaining(t *testing.T) {
	p := validPlan()
	if p.Complete() {
		t.Fatal("Complete() = true for fresh plan")
	}
	if got := len(p.Remaining()); got != 3 {
		t.Fatalf("Remaining() = %d steps, want 3", got)
	}

	for i := range p.Steps {
		p.Steps[i].Status = StepStatusDone
	}
	if !p.Complete() {
		t.Fatal("Complete() = false with all steps done")
	}
	if got := p.Remaining(); got != nil {
		t.Fatalf("Remaining() = %v, want nil", got)
	}

	empty := &Plan{SessionID: "s1", Version: 1}
	if empty.Complete() {
		t.Fatal("Complete() = true for empty plan")
	}
}
