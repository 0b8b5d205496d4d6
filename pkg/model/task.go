package model

import "time"

// Task is a unit of work submitted by a user and dispatched to a worker.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	State       TaskState `json:"state"`

	// Priority is computed once by the scorer at submission time and is
	// immutable thereafter. Higher values are more urgent.
	Priority float64 `json:"priority"`

	// AssignedWorker holds the id of the worker currently holding this
	// task. Empty while pending and after a requeue.
	AssignedWorker string `json:"assigned_worker_id,omitempty"`

	// FailureReason is set when the task reaches the failed state.
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Before reports whether t should be dispatched before other: priority
// descending, then created_at ascending, then id ascending. This is a
// total order, so scheduling is deterministic for any input set.
func (t *Task) Before(other *Task) bool {
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.Before(other.CreatedAt)
	}
	return t.ID < other.ID
}

// TaskEvent is one entry in a task's audit trail. Seq is per-task and
// strictly increasing; every state mutation appends exactly one event.
type TaskEvent struct {
	TaskID    string    `json:"task_id"`
	Seq       int       `json:"seq"`
	From      TaskState `json:"from"`
	To        TaskState `json:"to"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
