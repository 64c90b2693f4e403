// Package task defines the Task domain entity: one dispatch of a plan step
// to a worker.
package task

import (
	"time"

	"github.com/Strob0t/QuantForge/internal/domain/worker"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the task is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is one dispatch of a plan step to a worker. At most one task is
// active per plan step at a time; retries create the next attempt only
// after the previous one reached a terminal status.
type Task struct {
	CorrelationID string      `json:"correlation_id"`
	SessionID     string      `json:"session_id"`
	PlanVersion   int         `json:"plan_version"`
	StepNumber    int         `json:"step_number"`
	Role          worker.Role `json:"role"`
	Input         string      `json:"input"`
	Status        Status      `json:"status"`
	Retries       int         `json:"retries"`
	Error         string      `json:"error,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}
