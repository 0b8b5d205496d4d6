package model

// TaskState represents the lifecycle state of a Task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateAssigned  TaskState = "assigned"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true if the task is in a final state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed:
		return true
	}
	return false
}

// ValidTaskTransitions defines the allowed state transitions for Tasks.
// The only backward edges are assigned/running → pending, used when a
// worker is lost and its task is requeued.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStatePending:  {TaskStateAssigned},
	TaskStateAssigned: {TaskStateRunning, TaskStatePending},
	TaskStateRunning:  {TaskStateCompleted, TaskStateFailed, TaskStatePending},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WorkerState represents the availability state of a Worker.
type WorkerState string

const (
	WorkerStateIdle        WorkerState = "idle"
	WorkerStateBusy        WorkerState = "busy"
	WorkerStateUnreachable WorkerState = "unreachable"
)

// String returns the string representation of the worker state.
func (s WorkerState) String() string {
	return string(s)
}

// ValidWorkerTransitions defines the allowed state transitions for Workers.
// unreachable → idle happens on re-registration or a late release.
var ValidWorkerTransitions = map[WorkerState][]WorkerState{
	WorkerStateIdle:        {WorkerStateBusy, WorkerStateUnreachable},
	WorkerStateBusy:        {WorkerStateIdle, WorkerStateUnreachable},
	WorkerStateUnreachable: {WorkerStateIdle},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s WorkerState) CanTransitionTo(next WorkerState) bool {
	for _, allowed := range ValidWorkerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
