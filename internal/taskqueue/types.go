// Package taskqueue schedules implementation tasks with dependency-aware,
// file-disjoint batch selection.
//
// Tasks become ready as their dependencies complete. SelectBatch picks a
// set of ready tasks whose target file patterns do not overlap, so
// concurrent agent runs never touch the same files. Completing a task
// unblocks its dependents; a blocked task transitively blocks everything
// that depends on it.
//
// The queue can be restored from checkpoint bookkeeping so a resumed run
// re-enters scheduling exactly where the previous process died.
package taskqueue

import (
	"time"

	"github.com/rowanlane/convoy/internal/plan"
)

// TaskStatus represents the scheduling state of a task.
type TaskStatus string

const (
	// TaskPending indicates the task is waiting on dependencies.
	TaskPending TaskStatus = "pending"

	// TaskReady indicates all dependencies completed; the task can be
	// selected into a batch.
	TaskReady TaskStatus = "ready"

	// TaskInProgress indicates the task was dispatched to an agent.
	TaskInProgress TaskStatus = "in-progress"

	// TaskCompleted indicates the task finished successfully.
	TaskCompleted TaskStatus = "completed"

	// TaskBlocked indicates the task terminally failed, or a dependency
	// of it did.
	TaskBlocked TaskStatus = "blocked"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskBlocked
}

// ScheduledTask wraps a plan.Task with scheduling state.
type ScheduledTask struct {
	// Task is the underlying task from the plan.
	plan.Task

	// Status is the current scheduling state.
	Status TaskStatus `json:"status"`

	// StartedAt is when the task was dispatched.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt is when the task reached a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// BlockReason explains why the task is blocked: its own failure or
	// the ID of the failed dependency.
	BlockReason string `json:"block_reason,omitempty"`
}

// QueueStatus is a snapshot of the scheduler's state counts.
type QueueStatus struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Ready      int `json:"ready"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
}
