package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/QuantForge/internal/config"
	"github.com/Strob0t/QuantForge/internal/domain"
	"github.com/Strob0t/QuantForge/internal/domain/refine"
	"github.com/Strob0t/QuantForge/internal/domain/session"
	"github.com/Strob0t/QuantForge/internal/domain/worker"
	"github.com/Strob0t/QuantForge/internal/port/workerbackend"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

// RefineController runs the bounded synthesize, evaluate, judge loop over
// the working strategy. Every step persists its artifact before the next
// one starts, so a crashed loop resumes at the first step whose artifact
// is missing.
type RefineController struct {
	store   *workspace.Store
	workers *workerbackend.Registry
	cfg     config.Refine
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewRefineController creates a RefineController.
func NewRefineController(store *workspace.Store, workers *workerbackend.Registry, cfg config.Refine, workerTimeout time.Duration, log *slog.Logger) *RefineController {
	return &RefineController{
		store:   store,
		workers: workers,
		cfg:     cfg,
		timeout: workerTimeout,
		log:     log,
		now:     time.Now,
	}
}

// RefineOutcome summarizes a finished or aborted loop.
type RefineOutcome struct {
	Iterations    int
	BestScore     int
	BestIteration int
}

// Run executes refinement iterations until the configured count is
// reached, early stop triggers, or the judge proves unusable. On a
// judge-malformed abort the returned outcome still names the best
// iteration so far and the error wraps ErrJudgeMalformed.
func (c *RefineController) Run(ctx context.Context, s session.Session, objective string) (RefineOutcome, error) {
	ws := s.Workspace
	log := c.log.With("session_id", s.ID)

	completed, best, bestIter, err := c.resume(ws)
	if err != nil {
		return RefineOutcome{}, err
	}
	out := RefineOutcome{Iterations: completed, BestScore: best, BestIteration: bestIter}

	for n := completed + 1; n <= c.cfg.Iterations; n++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		strategyVer, err := c.synthesize(ctx, s, objective, n)
		if err != nil {
			return out, err
		}
		evalVer, err := c.evaluate(ctx, s, strategyVer, n)
		if err != nil {
			return out, err
		}
		judgment, err := c.judge(ctx, s, strategyVer, evalVer, n)
		if err != nil {
			if errors.Is(err, domain.ErrJudgeMalformed) {
				log.Warn("refinement aborted", "iteration", n, "error", err)
				return out, err
			}
			return out, err
		}

		if err := c.record(ws, n, strategyVer, evalVer, judgment); err != nil {
			return out, err
		}
		out.Iterations = n
		if judgment.Score > out.BestScore {
			out.BestScore = judgment.Score
			out.BestIteration = n
		}
		log.Info("iteration complete", "iteration", n, "score", judgment.Score)

		if c.cfg.EarlyStop && judgment.Score >= c.cfg.AcceptScore {
			log.Info("early stop", "iteration", n, "score", judgment.Score, "accept_score", c.cfg.AcceptScore)
			break
		}
	}
	return out, nil
}

// resume reads completed iteration records and returns their count plus
// the best score seen, so Run picks up where a previous process stopped.
func (c *RefineController) resume(ws string) (completed, best, bestIter int, err error) {
	metas, err := c.store.List(ws)
	if err != nil {
		return 0, 0, 0, err
	}
	completed = workspace.LatestVersion(metas, workspace.StageIteration)
	for n := 1; n <= completed; n++ {
		raw, err := c.store.ReadArtifact(ws, workspace.ArtifactName(workspace.StageIteration, n))
		if err != nil {
			return 0, 0, 0, err
		}
		var it refine.Iteration
		if err := json.Unmarshal(raw, &it); err != nil {
			return 0, 0, 0, fmt.Errorf("decode iteration %d: %w", n, err)
		}
		if it.Judgment.Score > best {
			best = it.Judgment.Score
			bestIter = n
		}
	}
	return completed, best, bestIter, nil
}

// synthesize produces strategy version matching iteration n, reusing an
// already-persisted one after a crash. Feedback from the previous
// iteration is fed into the prompt context.
func (c *RefineController) synthesize(ctx context.Context, s session.Session, objective string, n int) (int, error) {
	if ver, err := c.store.NextVersion(s.Workspace, workspace.StageStrategy); err != nil {
		return 0, err
	} else if ver > n {
		return ver - 1, nil // crash after synthesis, reuse it
	}

	reqCtx := ""
	if raw, _, err := c.store.ReadLatest(s.Workspace, workspace.StageFeedback); err == nil {
		reqCtx = "Previous feedback:\n" + string(raw)
	} else if raw, _, err := c.store.ReadLatest(s.Workspace, workspace.StageResearch); err == nil {
		reqCtx = "Research notes:\n" + string(raw)
	}

	resp, err := c.perform(ctx, worker.RoleSynthesizer, workerbackend.Request{
		SessionID: s.ID,
		Workspace: s.Workspace,
		Role:      worker.RoleSynthesizer,
		Objective: objective,
		Goal:      s.Goal,
		Context:   reqCtx,
		Iteration: n,
	})
	if err != nil {
		return 0, fmt.Errorf("synthesize iteration %d: %w", n, err)
	}
	ver, err := c.store.NextVersion(s.Workspace, workspace.StageStrategy)
	if err != nil {
		return 0, err
	}
	if _, err := c.store.WriteArtifact(s.Workspace, workspace.StageStrategy, ver, resp.Output); err != nil {
		return 0, err
	}
	return ver, nil
}

// evaluate produces the evaluation of strategy version strategyVer.
func (c *RefineController) evaluate(ctx context.Context, s session.Session, strategyVer, n int) (int, error) {
	next, err := c.store.NextVersion(s.Workspace, workspace.StageEvaluation)
	if err != nil {
		return 0, err
	}
	if next > n {
		return next - 1, nil // already evaluated before a crash
	}

	strategy, err := c.store.ReadArtifact(s.Workspace, workspace.ArtifactName(workspace.StageStrategy, strategyVer))
	if err != nil {
		return 0, err
	}
	resp, err := c.perform(ctx, worker.RoleEvaluator, workerbackend.Request{
		SessionID: s.ID,
		Workspace: s.Workspace,
		Role:      worker.RoleEvaluator,
		Objective: "evaluate the current strategy",
		Goal:      s.Goal,
		Context:   string(strategy),
		Iteration: n,
	})
	if err != nil {
		return 0, fmt.Errorf("evaluate iteration %d: %w", n, err)
	}
	if _, err := c.store.WriteArtifact(s.Workspace, workspace.StageEvaluation, next, resp.Output); err != nil {
		return 0, err
	}
	return next, nil
}

// judge obtains a validated judgment for the iteration. A malformed
// judgment is retried exactly once; the second failure aborts the loop.
func (c *RefineController) judge(ctx context.Context, s session.Session, strategyVer, evalVer, n int) (refine.Judgment, error) {
	strategy, err := c.store.ReadArtifact(s.Workspace, workspace.ArtifactName(workspace.StageStrategy, strategyVer))
	if err != nil {
		return refine.Judgment{}, err
	}
	eval, err := c.store.ReadArtifact(s.Workspace, workspace.ArtifactName(workspace.StageEvaluation, evalVer))
	if err != nil {
		return refine.Judgment{}, err
	}
	req := workerbackend.Request{
		SessionID: s.ID,
		Workspace: s.Workspace,
		Role:      worker.RoleJudge,
		Objective: "score the strategy against its evaluation",
		Goal:      s.Goal,
		Context:   fmt.Sprintf("Strategy:\n%s\n\nEvaluation:\n%s", strategy, eval),
		Iteration: n,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.perform(ctx, worker.RoleJudge, req)
		if err != nil {
			return refine.Judgment{}, fmt.Errorf("judge iteration %d: %w", n, err)
		}
		j, err := refine.ParseJudgment(resp.Output)
		if err == nil {
			return j, nil
		}
		lastErr = err
	}
	return refine.Judgment{}, fmt.Errorf("iteration %d: %w", n, lastErr)
}

// record persists the feedback artifact and the immutable iteration
// record, in that order. The iteration record is the commit point.
func (c *RefineController) record(ws string, n, strategyVer, evalVer int, j refine.Judgment) error {
	fbVer, err := c.store.NextVersion(ws, workspace.StageFeedback)
	if err != nil {
		return err
	}
	if fbVer == n { // skip when a crash already wrote it
		if _, err := c.store.WriteArtifact(ws, workspace.StageFeedback, fbVer, []byte(j.Feedback())); err != nil {
			return err
		}
	}

	it := refine.Iteration{
		Number:            n,
		StrategyVersion:   strategyVer,
		EvaluationVersion: evalVer,
		Judgment:          j,
		CompletedAt:       c.now().UTC(),
	}
	raw, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return err
	}
	_, err = c.store.WriteArtifact(ws, workspace.StageIteration, n, raw)
	return err
}

func (c *RefineController) perform(ctx context.Context, role worker.Role, req workerbackend.Request) (workerbackend.Response, error) {
	backend, err := c.workers.For(role)
	if err != nil {
		return workerbackend.Response{}, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return backend.Perform(ctx, req)
}
