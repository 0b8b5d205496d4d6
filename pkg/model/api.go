package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// TaskView is the read-only projection of a Task returned to API callers.
type TaskView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	OwnerID        string     `json:"owner_id,omitempty"`
	State          TaskState  `json:"state"`
	Priority       float64    `json:"priority"`
	AssignedWorker string     `json:"assigned_worker_id,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// View builds the API projection of a task.
func (t *Task) View() TaskView {
	return TaskView{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		OwnerID:        t.OwnerID,
		State:          t.State,
		Priority:       t.Priority,
		AssignedWorker: t.AssignedWorker,
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
	}
}
