// Package worker defines the closed set of worker roles a plan step can be
// dispatched to.
package worker

import "fmt"

// Role identifies a specialized worker. The set is closed: dispatch code
// switches exhaustively over these values and rejects anything else at
// plan-validation time rather than at dispatch time.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleExecutor    Role = "executor"
	RoleSynthesizer Role = "synthesizer"
	RoleEvaluator   Role = "evaluator"
	RoleJudge       Role = "judge"
	RoleWriter      Role = "writer"
)

// All lists every known role in a stable order.
func All() []Role {
	return []Role{RolePlanner, RoleExecutor, RoleSynthesizer, RoleEvaluator, RoleJudge, RoleWriter}
}

// Parse converts a string to a Role, rejecting unknown values.
func Parse(s string) (Role, error) {
	switch Role(s) {
	case RolePlanner, RoleExecutor, RoleSynthesizer, RoleEvaluator, RoleJudge, RoleWriter:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown worker role %q", s)
}
