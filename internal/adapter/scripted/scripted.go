// Package scripted provides a deterministic worker backend covering every
// role. It exists for local development and tests: sessions run end to end
// with reproducible artifacts and no external model. When a gateway is
// attached, the executor and evaluator turns drive the real tools, so the
// default binary exercises the full tool surface.
package scripted

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/QuantForge/internal/domain/plan"
	"github.com/Strob0t/QuantForge/internal/domain/protocol"
	"github.com/Strob0t/QuantForge/internal/domain/refine"
	"github.com/Strob0t/QuantForge/internal/domain/worker"
	"github.com/Strob0t/QuantForge/internal/gateway"
	"github.com/Strob0t/QuantForge/internal/port/workerbackend"
)

const toolTimeout = 30 * time.Second

// Backend performs every role with canned, goal-derived output.
type Backend struct {
	// BaseScore is the judge's score for iteration 1; each later
	// iteration scores one higher, capped at 10.
	BaseScore int

	// Tools, when set, lets the executor fan out market-data and search
	// calls and the evaluator run the strategy in the sandbox. Nil keeps
	// the backend fully offline.
	Tools *gateway.Gateway
}

// New creates a scripted backend with a base judge score of 6.
func New() *Backend {
	return &Backend{BaseScore: 6}
}

// Roles reports that this backend covers the full role union.
func (b *Backend) Roles() []worker.Role {
	return worker.All()
}

// Perform produces role-shaped deterministic output.
func (b *Backend) Perform(ctx context.Context, req workerbackend.Request) (workerbackend.Response, error) {
	if err := ctx.Err(); err != nil {
		return workerbackend.Response{}, err
	}

	switch req.Role {
	case worker.RolePlanner:
		return b.planTurn(req)
	case worker.RoleExecutor:
		return b.researchTurn(ctx, req)
	case worker.RoleSynthesizer:
		out := fmt.Sprintf("# strategy draft, iteration %d\n# goal: %s\nprint(%q)\n", req.Iteration, req.Goal, req.Goal)
		return workerbackend.Response{Output: []byte(out), Summary: fmt.Sprintf("strategy draft %d", req.Iteration)}, nil
	case worker.RoleEvaluator:
		return b.evaluateTurn(ctx, req)
	case worker.RoleJudge:
		return b.judgeTurn(req)
	case worker.RoleWriter:
		out := fmt.Sprintf("# Final report\n\nGoal: %s\n\n%s\n", req.Goal, req.Context)
		return workerbackend.Response{Output: []byte(out), Summary: "report written"}, nil
	}
	return workerbackend.Response{}, fmt.Errorf("scripted backend: unknown role %q", req.Role)
}

func (b *Backend) planTurn(req workerbackend.Request) (workerbackend.Response, error) {
	steps := []plan.Step{
		{StepNumber: 1, Objective: "gather background research for the goal", Role: worker.RoleExecutor},
		{StepNumber: 2, Objective: "refine a strategy for the goal", Role: worker.RoleSynthesizer},
		{StepNumber: 3, Objective: "write the final report", Role: worker.RoleWriter},
	}
	out, err := json.Marshal(steps)
	if err != nil {
		return workerbackend.Response{}, err
	}
	return workerbackend.Response{Output: out, Summary: "three-step plan"}, nil
}

// researchTurn writes the research notes. With a gateway attached it fans
// out a market-data download and a web search concurrently and folds the
// joined results into the notes; either tool failing degrades the notes
// instead of failing the step.
func (b *Backend) researchTurn(ctx context.Context, req workerbackend.Request) (workerbackend.Response, error) {
	var notes strings.Builder
	fmt.Fprintf(&notes, "# Research notes\n\nGoal: %s\n\nObjective: %s\n", req.Goal, req.Objective)

	if b.Tools == nil || req.Workspace == "" {
		return workerbackend.Response{Output: []byte(notes.String()), Summary: "research notes written"}, nil
	}

	mdArgs, err := json.Marshal(map[string]any{
		"workspace": req.Workspace,
		"tickers":   []string{"spy.us"},
		"start":     "20240101",
		"end":       "20241231",
	})
	if err != nil {
		return workerbackend.Response{}, err
	}
	searchArgs, err := json.Marshal(map[string]any{"keywords": req.Goal})
	if err != nil {
		return workerbackend.Response{}, err
	}

	names := []string{"download_market_data", "web_search"}
	calls := make([]protocol.Envelope, len(names))
	for i, raw := range []json.RawMessage{mdArgs, searchArgs} {
		env, err := protocol.NewToolCall(uuid.NewString(), names[i], raw, toolTimeout, time.Now())
		if err != nil {
			return workerbackend.Response{}, err
		}
		calls[i] = env
	}

	notes.WriteString("\n## Tool results\n")
	for i, res := range b.Tools.CallAll(ctx, calls) {
		payload, err := res.ResultPayload()
		if err == nil {
			err = gateway.ResultError(payload)
		}
		if err != nil {
			fmt.Fprintf(&notes, "- %s: unavailable (%v)\n", names[i], err)
			continue
		}
		fmt.Fprintf(&notes, "- %s: %s\n", names[i], compact(payload.Result))
	}
	return workerbackend.Response{Output: []byte(notes.String()), Summary: "research notes written"}, nil
}

// evaluateTurn writes the evaluation. With a gateway attached the strategy
// under evaluation (carried in the request context) is run in the
// session's sandbox and its output captured.
func (b *Backend) evaluateTurn(ctx context.Context, req workerbackend.Request) (workerbackend.Response, error) {
	var out strings.Builder
	fmt.Fprintf(&out, "# Evaluation\n\nIteration %d evaluated against: %s\n", req.Iteration, req.Goal)

	if b.Tools != nil && req.SessionID != "" && req.Context != "" {
		res, err := b.Tools.Call(ctx, "execute_code", map[string]any{
			"session_id": req.SessionID,
			"code":       req.Context,
		}, toolTimeout)
		if err != nil {
			fmt.Fprintf(&out, "\nSandbox run unavailable: %v\n", err)
		} else {
			fmt.Fprintf(&out, "\nSandbox run:\n%s\n", compact(res.Result))
		}
	}
	return workerbackend.Response{Output: []byte(out.String()), Summary: "evaluation recorded"}, nil
}

func (b *Backend) judgeTurn(req workerbackend.Request) (workerbackend.Response, error) {
	score := b.BaseScore + req.Iteration - 1
	if score > 10 {
		score = 10
	}
	j := refine.Judgment{
		Score:       score,
		Critique:    fmt.Sprintf("iteration %d is adequate but can sharpen entry rules", req.Iteration),
		Suggestions: []string{"tighten risk limits", "add an out-of-sample check"},
	}
	out, err := json.Marshal(j)
	if err != nil {
		return workerbackend.Response{}, err
	}
	return workerbackend.Response{Output: out, Summary: fmt.Sprintf("scored %d", score)}, nil
}

// compact trims a raw tool result for inclusion in a notes artifact.
func compact(raw json.RawMessage) string {
	s := string(raw)
	if len(s) > 400 {
		s = s[:400] + "..."
	}
	return s
}
