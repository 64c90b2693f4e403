// Package workerbackend defines the worker backend port: the boundary
// behind which a worker's reasoning (model, script, human) lives.
package workerbackend

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/QuantForge/internal/domain/worker"
)

// Request is the input to one worker turn.
type Request struct {
	SessionID string `json:"session_id"`
	// Workspace is the session's workspace directory, for backends whose
	// tool calls address artifacts.
	Workspace string      `json:"workspace,omitempty"`
	Role      worker.Role `json:"role"`
	Objective string      `json:"objective"`
	// Goal is the original user goal, always available to the worker.
	Goal string `json:"goal"`
	// Context carries prior feedback, the directory summary, or any other
	// text the orchestrator injects for this turn.
	Context string `json:"context,omitempty"`
	// Iteration is set for refinement-loop turns, 0 otherwise.
	Iteration int `json:"iteration,omitempty"`
}

// Response is the output of one worker turn. Output is the artifact body
// the orchestrator persists; for the judge role it must decode as a
// judgment.
type Response struct {
	Output  json.RawMessage `json:"output"`
	Summary string          `json:"summary,omitempty"`
}

// Backend performs worker turns for one or more roles.
type Backend interface {
	// Roles returns the roles this backend can perform.
	Roles() []worker.Role

	// Perform runs one worker turn. The backend may issue tool calls of
	// its own through the gateway; it must observe ctx cancellation.
	Perform(ctx context.Context, req Request) (Response, error)
}
