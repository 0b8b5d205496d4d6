package scheduler

import (
	"context"

	"github.com/me/dispatch/pkg/model"
)

// ExecHandler delivers an assignment to the execution side. The task has
// already been transitioned to assigned and the worker claimed busy when
// Assign is called. An error from Assign requeues the task and releases
// the worker; it never halts the dispatch loop.
type ExecHandler interface {
	Assign(ctx context.Context, task *model.Task, worker *model.Worker) error
}

// PullHandler is the delivery strategy for remote workers: delivery is a
// no-op because the assignment rests in the store until the assigned
// worker's next poll picks it up over the API.
type PullHandler struct{}

func (PullHandler) Assign(context.Context, *model.Task, *model.Worker) error {
	return nil
}
