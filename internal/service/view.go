package service

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/QuantForge/internal/config"
	"github.com/Strob0t/QuantForge/internal/domain/plan"
	"github.com/Strob0t/QuantForge/internal/domain/session"
	"github.com/Strob0t/QuantForge/internal/domain/task"
	"github.com/Strob0t/QuantForge/internal/domain/worker"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

// View is the orchestrator's reconstruction of a session, built purely
// from the workspace store. It is a cache: throwing it away and rebuilding
// from disk always yields the same view.
type View struct {
	Session session.Session
	Metas   []workspace.Meta
	// Plan is the latest plan version with step statuses derived from
	// task records, or nil before planning.
	Plan *plan.Plan
	// Tasks are all task records in dispatch order.
	Tasks []task.Task
	// Iterations are the completed refinement iterations in order.
	Iterations []int
}

// LoadView rebuilds the session view from the workspace alone.
func LoadView(store *workspace.Store, ws string) (View, error) {
	var v View

	metas, err := store.List(ws)
	if err != nil {
		return v, err
	}
	v.Metas = metas

	raw, err := store.ReadArtifact(ws, workspace.ArtifactName(workspace.StageSession, 1))
	if err != nil {
		return v, fmt.Errorf("session record: %w", err)
	}
	if err := json.Unmarshal(raw, &v.Session); err != nil {
		return v, fmt.Errorf("decode session record: %w", err)
	}

	// Task records, in version order.
	for ver := 1; ver <= workspace.LatestVersion(metas, workspace.StageTask); ver++ {
		raw, err := store.ReadArtifact(ws, workspace.ArtifactName(workspace.StageTask, ver))
		if err != nil {
			return v, err
		}
		var t task.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return v, fmt.Errorf("decode task record v%d: %w", ver, err)
		}
		v.Tasks = append(v.Tasks, t)
	}

	// Latest plan version, with step statuses derived from task records.
	if pv := workspace.LatestVersion(metas, workspace.StagePlan); pv > 0 {
		raw, err := store.ReadArtifact(ws, workspace.ArtifactName(workspace.StagePlan, pv))
		if err != nil {
			return v, err
		}
		var p plan.Plan
		if err := json.Unmarshal(raw, &p); err != nil {
			return v, fmt.Errorf("decode plan v%d: %w", pv, err)
		}
		p.Version = pv
		if err := p.Validate(); err != nil {
			return v, fmt.Errorf("plan v%d: %w", pv, err)
		}
		deriveStepStatus(&p, v.Tasks)
		v.Plan = &p
		v.Session.PlanVersion = pv
	}

	for ver := 1; ver <= workspace.LatestVersion(metas, workspace.StageIteration); ver++ {
		v.Iterations = append(v.Iterations, ver)
	}

	return v, nil
}

// deriveStepStatus overlays task outcomes onto the immutable plan steps.
// Plan artifacts always carry pending statuses on disk; the live status
// of a step is whatever its most recent task record says.
func deriveStepStatus(p *plan.Plan, tasks []task.Task) {
	for i := range p.Steps {
		p.Steps[i].Status = plan.StepStatusPending
		var last *task.Task
		for j := range tasks {
			t := &tasks[j]
			if t.PlanVersion == p.Version && t.StepNumber == p.Steps[i].StepNumber {
				last = t
			}
		}
		if last == nil {
			continue
		}
		switch last.Status {
		case task.StatusCompleted:
			p.Steps[i].Status = plan.StepStatusDone
		case task.StatusFailed, task.StatusCancelled:
			p.Steps[i].Status = plan.StepStatusFailed
		default:
			p.Steps[i].Status = plan.StepStatusActive
		}
	}
}

// ActionKind enumerates what the orchestrator can do next.
type ActionKind string

const (
	ActionPlan     ActionKind = "plan"
	ActionReplan   ActionKind = "replan"
	ActionExecute  ActionKind = "execute"
	ActionRefine   ActionKind = "refine"
	ActionReport   ActionKind = "report"
	ActionRetry    ActionKind = "retry"
	ActionDone     ActionKind = "done"
	ActionFail     ActionKind = "fail"
	ActionEscalate ActionKind = "escalate"
)

// Action is the orchestrator's next move for a session.
type Action struct {
	Kind   ActionKind
	Step   *plan.Step
	Reason string
}

// Phase maps an action onto the session phase it implies.
func (a Action) Phase() session.Phase {
	switch a.Kind {
	case ActionPlan, ActionReplan:
		return session.PhasePlanning
	case ActionExecute, ActionRetry:
		return session.PhaseExecuting
	case ActionRefine:
		return session.PhaseRefining
	case ActionReport:
		return session.PhaseReporting
	case ActionDone:
		return session.PhaseDone
	case ActionEscalate:
		return session.PhaseEscalated
	}
	return session.PhaseFailed
}

// Decide is the pure decision function of the session state machine. Given
// the same view and budgets it always returns the same action, which is
// what makes crash recovery a matter of re-reading the workspace.
func Decide(v View, cfg config.Orchestrator) Action {
	metas := v.Metas

	// Terminal markers first: a finished session stays finished.
	switch {
	case workspace.HasStage(metas, workspace.StageFailure):
		return Action{Kind: ActionFail, Reason: "failure recorded"}
	case workspace.HasStage(metas, workspace.StageEscalation):
		return Action{Kind: ActionEscalate, Reason: "escalation recorded"}
	case workspace.HasStage(metas, workspace.StageReport):
		return Action{Kind: ActionDone, Reason: "report exists"}
	}

	if v.Plan == nil {
		return Action{Kind: ActionPlan, Reason: "no plan yet"}
	}

	if v.Plan.Complete() {
		return Action{Kind: ActionReport, Reason: "all steps done, no report"}
	}
	step := v.Plan.NextActionable()

	// A failed step is retried while its budget lasts, then the plan gets
	// one replan covering the unmet objectives, then the session escalates.
	// A retry re-enters the step through its own runner: a failed
	// refinement attempt goes back through the refinement loop, a failed
	// report attempt back through reporting.
	if step.Status == plan.StepStatusFailed {
		n := failedAttempts(v.Tasks, v.Plan.Version, step.StepNumber)
		if n > cfg.StepRetryBudget {
			if v.Plan.Version > cfg.ReplanBudget {
				return Action{Kind: ActionEscalate, Reason: "step retries and replan budget exhausted"}
			}
			return Action{Kind: ActionReplan, Reason: fmt.Sprintf("step %d failed %d times", step.StepNumber, n)}
		}
		reason := fmt.Sprintf("retry %d of step %d", n, step.StepNumber)
		switch step.Role {
		case worker.RoleSynthesizer:
			return Action{Kind: ActionRefine, Step: step, Reason: reason}
		case worker.RoleWriter:
			return Action{Kind: ActionReport, Step: step, Reason: reason}
		}
		return Action{Kind: ActionRetry, Step: step, Reason: reason}
	}

	// Failures the current step's own budget does not cover, left behind by
	// earlier plan versions. A replan does not clear a run that already
	// crossed the threshold.
	if consecutiveFailures(v.Tasks) >= cfg.EscalateAfter {
		return Action{Kind: ActionEscalate, Reason: fmt.Sprintf("%d consecutive step failures", cfg.EscalateAfter)}
	}

	switch step.Role {
	case worker.RoleSynthesizer:
		return Action{Kind: ActionRefine, Step: step, Reason: "refinement step"}
	case worker.RoleWriter:
		return Action{Kind: ActionReport, Step: step, Reason: "reporting step"}
	default:
		return Action{Kind: ActionExecute, Step: step, Reason: "next pending step"}
	}
}

// failedAttempts counts terminal failed tasks for one plan step.
func failedAttempts(tasks []task.Task, planVersion, stepNumber int) int {
	n := 0
	for _, t := range tasks {
		if t.PlanVersion == planVersion && t.StepNumber == stepNumber && t.Status == task.StatusFailed {
			n++
		}
	}
	return n
}

// consecutiveFailures counts the trailing run of failed task records.
func consecutiveFailures(tasks []task.Task) int {
	n := 0
	for i := len(tasks) - 1; i >= 0; i-- {
		if tasks[i].Status != task.StatusFailed {
			break
		}
		n++
	}
	return n
}

// checkTerminal returns the session's terminal phase if one is recorded.
func checkTerminal(metas []workspace.Meta) (session.Phase, bool) {
	switch {
	case workspace.HasStage(metas, workspace.StageFailure):
		return session.PhaseFailed, true
	case workspace.HasStage(metas, workspace.StageEscalation):
		return session.PhaseEscalated, true
	case workspace.HasStage(metas, workspace.StageReport):
		return session.PhaseDone, true
	}
	return "", false
}
