// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates an append-only write collided with an existing
// artifact version.
var ErrConflict = errors.New("conflict: version already exists")

// ErrValidation indicates malformed input (tool arguments, envelope fields).
// A validation failure is surfaced before dispatch and never retried.
var ErrValidation = errors.New("validation error")

// ErrTransient indicates a failure class that may succeed on retry:
// network errors, timeouts, rate limits.
var ErrTransient = errors.New("transient error")

// ErrDependencyUnavailable indicates the circuit breaker for a dependency
// is open and the call was short-circuited without a network attempt.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// ErrNonIdempotent indicates a side-effecting call failed. The gateway
// never retries these automatically; the caller decides whether to re-issue.
var ErrNonIdempotent = errors.New("non-idempotent call failed")

// ErrJudgeMalformed indicates the judge worker returned output that does
// not conform to the judgment shape after the single allowed retry.
var ErrJudgeMalformed = errors.New("judge output malformed")

// ErrPlanInfeasible indicates no workable plan exists for the goal given
// the available worker capabilities.
var ErrPlanInfeasible = errors.New("plan infeasible")

// ErrEscalated indicates the retry and replan budgets are exhausted and
// the session requires human input.
var ErrEscalated = errors.New("escalated: automated recovery exhausted")
