package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/QuantForge/internal/config"
	"github.com/Strob0t/QuantForge/internal/domain"
	"github.com/Strob0t/QuantForge/internal/domain/plan"
	"github.com/Strob0t/QuantForge/internal/domain/session"
	"github.com/Strob0t/QuantForge/internal/domain/task"
	"github.com/Strob0t/QuantForge/internal/domain/worker"
	"github.com/Strob0t/QuantForge/internal/gateway"
	"github.com/Strob0t/QuantForge/internal/port/broadcast"
	"github.com/Strob0t/QuantForge/internal/port/workerbackend"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

// Orchestrator drives one session at a time through the decision loop:
// rebuild the view from the workspace, decide, act, repeat. All state it
// needs survives in the workspace store, so a crashed or cancelled run can
// be resumed by calling Run again on the same workspace.
type Orchestrator struct {
	store   *workspace.Store
	gw      *gateway.Gateway
	workers *workerbackend.Registry
	hub     broadcast.Broadcaster
	cfg     config.Orchestrator
	refine  *RefineController
	log     *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewOrchestrator creates an Orchestrator with all dependencies.
func NewOrchestrator(
	store *workspace.Store,
	gw *gateway.Gateway,
	workers *workerbackend.Registry,
	hub broadcast.Broadcaster,
	cfg config.Orchestrator,
	refine *RefineController,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:   store,
		gw:      gw,
		workers: workers,
		hub:     hub,
		cfg:     cfg,
		refine:  refine,
		log:     log,
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
}

const instrumentationName = "quantforge.orchestrator"

// Run executes the decision loop for the session in workspace ws until a
// terminal phase is reached, the decision budget runs out, or ctx is
// cancelled. Cancellation leaves the workspace resumable.
func (o *Orchestrator) Run(ctx context.Context, ws string) error {
	log := o.log.With("workspace", ws)
	var lastPhase session.Phase

	for decision := 1; ; decision++ {
		if err := ctx.Err(); err != nil {
			o.journal(ws, fmt.Sprintf("run cancelled after %d decisions", decision-1))
			return err
		}
		if decision > o.cfg.MaxDecisions {
			return o.fail(ctx, ws, fmt.Errorf("decision budget of %d exhausted", o.cfg.MaxDecisions))
		}

		v, err := LoadView(o.store, ws)
		if err != nil {
			return fmt.Errorf("load view: %w", err)
		}
		act := Decide(v, o.cfg)

		ctx, span := o.tracer.Start(ctx, "orchestrator.decision",
			trace.WithAttributes(
				attribute.String("session.id", v.Session.ID),
				attribute.Int("decision", decision),
				attribute.String("action", string(act.Kind)),
			))

		if phase := act.Phase(); phase != lastPhase {
			if lastPhase != "" && !lastPhase.CanTransition(phase) {
				log.Warn("irregular phase transition", "from", lastPhase, "to", phase)
			}
			o.transition(ctx, v.Session, phase, act.Reason)
			lastPhase = phase
		}
		log.Info("decision", "n", decision, "action", act.Kind, "reason", act.Reason)

		err = o.act(ctx, v, act)
		span.End()

		switch {
		case err == nil:
			if act.Kind == ActionDone || act.Kind == ActionFail || act.Kind == ActionEscalate {
				return terminalErr(act.Kind)
			}
		case errors.Is(err, domain.ErrPlanInfeasible):
			return o.fail(ctx, ws, err)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			o.journal(ws, fmt.Sprintf("decision %d interrupted: %v", decision, err))
			return err
		default:
			return o.fail(ctx, ws, err)
		}
	}
}

// terminalErr maps a terminal action onto the error Run reports.
func terminalErr(kind ActionKind) error {
	switch kind {
	case ActionEscalate:
		return domain.ErrEscalated
	case ActionFail:
		return errors.New("session failed")
	}
	return nil
}

func (o *Orchestrator) act(ctx context.Context, v View, act Action) error {
	switch act.Kind {
	case ActionPlan, ActionReplan:
		return o.runPlanning(ctx, v, act.Kind == ActionReplan)
	case ActionExecute, ActionRetry:
		return o.runStep(ctx, v, act.Step, act.Kind == ActionRetry)
	case ActionRefine:
		return o.runRefine(ctx, v, act.Step)
	case ActionReport:
		return o.runReport(ctx, v, act.Step)
	case ActionEscalate:
		return o.recordEscalation(v, act.Reason)
	case ActionDone, ActionFail:
		return nil
	}
	return fmt.Errorf("unknown action %q", act.Kind)
}

// runPlanning asks the planner for a plan, validates it, and persists it
// as the next plan version. An invalid or uncoverable plan is infeasible
// and fails the session.
func (o *Orchestrator) runPlanning(ctx context.Context, v View, replan bool) error {
	backend, err := o.workers.For(worker.RolePlanner)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPlanInfeasible, err)
	}

	req := workerbackend.Request{
		SessionID: v.Session.ID,
		Workspace: v.Session.Workspace,
		Role:      worker.RolePlanner,
		Objective: "produce an ordered step plan for the goal",
		Goal:      v.Session.Goal,
	}
	if replan {
		req.Objective = "produce a revised plan covering the unmet objectives"
		req.Context = o.replanContext(v)
	}

	resp, err := o.perform(ctx, backend, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: planner: %v", domain.ErrPlanInfeasible, err)
	}

	var steps []plan.Step
	if err := json.Unmarshal(resp.Output, &steps); err != nil {
		return fmt.Errorf("%w: decode planner output: %v", domain.ErrPlanInfeasible, err)
	}
	ver, err := o.store.NextVersion(v.Session.Workspace, workspace.StagePlan)
	if err != nil {
		return err
	}
	p := plan.Plan{
		SessionID: v.Session.ID,
		Version:   ver,
		Goal:      v.Session.Goal,
		Steps:     steps,
		CreatedAt: o.now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPlanInfeasible, err)
	}
	roles := make([]worker.Role, len(p.Steps))
	for i, s := range p.Steps {
		roles[i] = s.Role
	}
	if !o.workers.Covered(roles) {
		return fmt.Errorf("%w: plan names a role with no registered backend", domain.ErrPlanInfeasible)
	}

	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if _, err := o.store.WriteArtifact(v.Session.Workspace, workspace.StagePlan, ver, raw); err != nil {
		return err
	}
	o.journal(v.Session.Workspace, fmt.Sprintf("plan v%d recorded with %d steps", ver, len(p.Steps)))
	return nil
}

// replanContext summarizes what went wrong under the current plan so the
// planner can cover the unmet objectives.
func (o *Orchestrator) replanContext(v View) string {
	var b strings.Builder
	b.WriteString("Previous plan version ")
	fmt.Fprintf(&b, "%d did not complete.\n", v.Plan.Version)
	for _, s := range v.Plan.Remaining() {
		fmt.Fprintf(&b, "Unmet step %d (%s): %s\n", s.StepNumber, s.Role, s.Objective)
	}
	for _, t := range v.Tasks {
		if t.PlanVersion == v.Plan.Version && t.Status == task.StatusFailed {
			fmt.Fprintf(&b, "Step %d attempt failed: %s\n", t.StepNumber, t.Error)
		}
	}
	b.WriteString(directorySummary(v.Metas))
	return b.String()
}

// runStep dispatches one plan step to its worker backend and persists the
// outcome as a task record. A worker failure is recorded, not returned:
// the next decision round sees the failed task and applies the retry
// budget.
func (o *Orchestrator) runStep(ctx context.Context, v View, step *plan.Step, retry bool) error {
	backend, err := o.workers.For(step.Role)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPlanInfeasible, err)
	}

	t := task.Task{
		CorrelationID: uuid.NewString(),
		SessionID:     v.Session.ID,
		PlanVersion:   v.Plan.Version,
		StepNumber:    step.StepNumber,
		Role:          step.Role,
		Input:         step.Objective,
		Status:        task.StatusActive,
		StartedAt:     o.now().UTC(),
	}
	if retry {
		t.Retries = failedAttempts(v.Tasks, v.Plan.Version, step.StepNumber)
	}

	req := workerbackend.Request{
		SessionID: v.Session.ID,
		Workspace: v.Session.Workspace,
		Role:      step.Role,
		Objective: step.Objective,
		Goal:      v.Session.Goal,
		Context:   directorySummary(v.Metas),
	}
	resp, perr := o.perform(ctx, backend, req)
	if errors.Is(perr, context.Canceled) {
		return perr
	}

	done := o.now().UTC()
	t.CompletedAt = &done
	if perr != nil {
		t.Status = task.StatusFailed
		t.Error = perr.Error()
	} else {
		t.Status = task.StatusCompleted
		if stage := outputStage(step.Role); stage != "" && len(resp.Output) > 0 {
			ver, err := o.store.NextVersion(v.Session.Workspace, stage)
			if err != nil {
				return err
			}
			if _, err := o.store.WriteArtifact(v.Session.Workspace, stage, ver, resp.Output); err != nil {
				return err
			}
		}
	}

	if err := o.writeTask(v.Session.Workspace, t); err != nil {
		return err
	}
	if perr != nil {
		o.journal(v.Session.Workspace, fmt.Sprintf("step %d (%s) failed: %v", step.StepNumber, step.Role, perr))
	} else {
		o.journal(v.Session.Workspace, fmt.Sprintf("step %d (%s) done: %s", step.StepNumber, step.Role, resp.Summary))
	}
	return nil
}

// runRefine hands the step to the refinement controller and records the
// outcome as a task. An aborted loop still counts as a completed step:
// the best iteration so far carries into reporting.
func (o *Orchestrator) runRefine(ctx context.Context, v View, step *plan.Step) error {
	t := task.Task{
		CorrelationID: uuid.NewString(),
		SessionID:     v.Session.ID,
		PlanVersion:   v.Plan.Version,
		StepNumber:    step.StepNumber,
		Role:          step.Role,
		Input:         step.Objective,
		Status:        task.StatusActive,
		StartedAt:     o.now().UTC(),
	}

	outcome, err := o.refine.Run(ctx, v.Session, step.Objective)
	if errors.Is(err, context.Canceled) {
		return err
	}

	done := o.now().UTC()
	t.CompletedAt = &done
	switch {
	case err == nil:
		t.Status = task.StatusCompleted
		o.journal(v.Session.Workspace, fmt.Sprintf("refinement finished after %d iterations, best score %d",
			outcome.Iterations, outcome.BestScore))
	case errors.Is(err, domain.ErrJudgeMalformed):
		// Loop aborted keeping the best iteration; reporting proceeds
		// with the partial result.
		t.Status = task.StatusCompleted
		t.Error = err.Error()
		o.journal(v.Session.Workspace, fmt.Sprintf("refinement aborted: %v (keeping iteration %d)",
			err, outcome.BestIteration))
	default:
		t.Status = task.StatusFailed
		t.Error = err.Error()
		o.journal(v.Session.Workspace, fmt.Sprintf("refinement failed: %v", err))
	}
	return o.writeTask(v.Session.Workspace, t)
}

// runReport asks the writer for the final report, persists it, and renders
// it through the renderer tool when one is registered. The report artifact
// is the session's terminal marker for the done path.
func (o *Orchestrator) runReport(ctx context.Context, v View, step *plan.Step) error {
	backend, err := o.workers.For(worker.RoleWriter)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPlanInfeasible, err)
	}

	objective := "write the final report"
	var t *task.Task
	if step != nil {
		objective = step.Objective
		t = &task.Task{
			CorrelationID: uuid.NewString(),
			SessionID:     v.Session.ID,
			PlanVersion:   v.Plan.Version,
			StepNumber:    step.StepNumber,
			Role:          step.Role,
			Input:         step.Objective,
			Status:        task.StatusActive,
			StartedAt:     o.now().UTC(),
		}
	}

	req := workerbackend.Request{
		SessionID: v.Session.ID,
		Workspace: v.Session.Workspace,
		Role:      worker.RoleWriter,
		Objective: objective,
		Goal:      v.Session.Goal,
		Context:   o.reportContext(v),
	}
	resp, perr := o.perform(ctx, backend, req)
	if errors.Is(perr, context.Canceled) {
		return perr
	}

	if perr == nil {
		ver, err := o.store.NextVersion(v.Session.Workspace, workspace.StageReport)
		if err != nil {
			return err
		}
		name, err := o.store.WriteArtifact(v.Session.Workspace, workspace.StageReport, ver, resp.Output)
		if err != nil {
			return err
		}
		o.renderReport(ctx, v.Session, name)
		o.journal(v.Session.Workspace, fmt.Sprintf("report %s written", name))
	}

	if t != nil {
		done := o.now().UTC()
		t.CompletedAt = &done
		if perr != nil {
			t.Status = task.StatusFailed
			t.Error = perr.Error()
		} else {
			t.Status = task.StatusCompleted
		}
		if err := o.writeTask(v.Session.Workspace, *t); err != nil {
			return err
		}
	}
	if perr != nil {
		o.journal(v.Session.Workspace, fmt.Sprintf("report attempt failed: %v", perr))
		if t == nil {
			return perr
		}
	}
	return nil
}

// renderReport runs the report through the renderer tool if registered.
// Rendering is best effort; a failure never blocks session completion.
func (o *Orchestrator) renderReport(ctx context.Context, s session.Session, artifact string) {
	args := map[string]any{"workspace": s.Workspace, "artifact": artifact}
	res, err := o.gw.Call(ctx, "render_report", args, 30*time.Second)
	if err != nil {
		o.log.Warn("report rendering skipped", "session_id", s.ID, "error", err)
		return
	}
	if err := gateway.ResultError(res); err != nil {
		o.log.Warn("report rendering failed", "session_id", s.ID, "error", err)
	}
}

// reportContext assembles the writer's input: journal, latest strategy,
// evaluation and feedback, and the directory summary.
func (o *Orchestrator) reportContext(v View) string {
	var b strings.Builder
	for _, stage := range []string{workspace.StageJournal, workspace.StageStrategy, workspace.StageEvaluation, workspace.StageFeedback} {
		raw, ver, err := o.store.ReadLatest(v.Session.Workspace, stage)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n", workspace.ArtifactName(stage, ver), raw)
	}
	b.WriteString(directorySummary(v.Metas))
	return b.String()
}

// recordEscalation writes the escalation marker. Idempotent: a marker that
// already exists is left alone.
func (o *Orchestrator) recordEscalation(v View, reason string) error {
	if workspace.HasStage(v.Metas, workspace.StageEscalation) {
		return nil
	}
	raw, err := json.Marshal(map[string]any{
		"session_id": v.Session.ID,
		"reason":     reason,
		"created_at": o.now().UTC(),
	})
	if err != nil {
		return err
	}
	if _, err := o.store.WriteArtifact(v.Session.Workspace, workspace.StageEscalation, 1, raw); err != nil && !errors.Is(err, domain.ErrConflict) {
		return err
	}
	o.journal(v.Session.Workspace, "escalated: "+reason)
	return nil
}

// fail records the failure marker with a diagnostic and returns err.
// Partial artifacts stay in place for inspection.
func (o *Orchestrator) fail(ctx context.Context, ws string, cause error) error {
	raw, merr := json.Marshal(map[string]any{
		"error":      cause.Error(),
		"created_at": o.now().UTC(),
	})
	if merr == nil {
		if _, werr := o.store.WriteArtifact(ws, workspace.StageFailure, 1, raw); werr != nil && !errors.Is(werr, domain.ErrConflict) {
			o.log.Error("write failure marker", "workspace", ws, "error", werr)
		}
	}
	o.journal(ws, "failed: "+cause.Error())
	if v, lerr := LoadView(o.store, ws); lerr == nil {
		o.transition(ctx, v.Session, session.PhaseFailed, cause.Error())
	}
	return cause
}

// perform runs one worker turn under the configured timeout.
func (o *Orchestrator) perform(ctx context.Context, backend workerbackend.Backend, req workerbackend.Request) (workerbackend.Response, error) {
	if o.cfg.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.WorkerTimeout)
		defer cancel()
	}
	return backend.Perform(ctx, req)
}

// writeTask appends a terminal task record.
func (o *Orchestrator) writeTask(ws string, t task.Task) error {
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	ver, err := o.store.NextVersion(ws, workspace.StageTask)
	if err != nil {
		return err
	}
	_, err = o.store.WriteArtifact(ws, workspace.StageTask, ver, raw)
	return err
}

// journal appends a journal entry. Journal failures are logged, never
// fatal: the journal is an audit aid, not a source of truth.
func (o *Orchestrator) journal(ws, entry string) {
	ver, err := o.store.NextVersion(ws, workspace.StageJournal)
	if err != nil {
		o.log.Warn("journal version", "workspace", ws, "error", err)
		return
	}
	line := fmt.Sprintf("%s %s\n", o.now().UTC().Format(time.RFC3339), entry)
	if _, err := o.store.WriteArtifact(ws, workspace.StageJournal, ver, []byte(line)); err != nil {
		o.log.Warn("journal write", "workspace", ws, "error", err)
	}
}

// transition broadcasts a phase change to all subscribers.
func (o *Orchestrator) transition(ctx context.Context, s session.Session, phase session.Phase, detail string) {
	ev := session.TransitionEvent{
		SessionID: s.ID,
		Phase:     phase,
		Timestamp: o.now().UTC(),
		Detail:    detail,
	}
	o.hub.BroadcastEvent(ctx, "session.transition", ev)
	o.log.Info("phase transition", "session_id", s.ID, "phase", phase, "detail", detail)
}

// outputStage maps a worker role to the stage its step output lands in.
// Roles whose artifacts are written elsewhere (refinement, reporting)
// return "".
func outputStage(role worker.Role) string {
	switch role {
	case worker.RoleExecutor:
		return workspace.StageResearch
	case worker.RoleEvaluator:
		return workspace.StageEvaluation
	}
	return ""
}

// directorySummary renders the existing artifact listing handed to workers
// so they reuse what is already on disk.
func directorySummary(metas []workspace.Meta) string {
	if len(metas) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Existing files:\n")
	for _, m := range metas {
		fmt.Fprintf(&b, "  %s (%d bytes)\n", m.Name, m.Size)
	}
	return b.String()
}
