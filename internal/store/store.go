package store

import (
	"context"
	"time"

	"github.com/me/dispatch/pkg/model"
)

// Store defines the persistence layer backing the task store and the
// worker registry. All state transitions are compare-and-set: concurrent
// transition attempts on the same record never both succeed.
type Store interface {
	// Task operations
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, state model.TaskState) ([]*model.Task, error)

	// NextPendingTask returns the pending task that is first in the
	// scheduling order (priority desc, created_at asc, id asc), or nil
	// when the queue is empty.
	NextPendingTask(ctx context.Context) (*model.Task, error)

	// TransitionTask atomically moves a task from expected to next,
	// appending an audit event in the same transaction. workerID
	// attributes the transition; when expected is a held state, the
	// transition also requires workerID to be the current holder. note
	// carries a failure reason or a requeue explanation. Returns
	// *model.ConflictError when the state or holder does not match.
	TransitionTask(ctx context.Context, id string, expected, next model.TaskState, workerID, note string) (*model.Task, error)

	// TaskEvents returns a task's audit trail in sequence order.
	TaskEvents(ctx context.Context, id string) ([]*model.TaskEvent, error)

	// Worker operations
	CreateWorker(ctx context.Context, w *model.Worker) error
	GetWorker(ctx context.Context, id string) (*model.Worker, error)
	GetWorkerByEndpoint(ctx context.Context, endpoint string) (*model.Worker, error)
	ListWorkers(ctx context.Context) ([]*model.Worker, error)
	UpdateWorker(ctx context.Context, w *model.Worker) error

	// AcquireIdleWorker atomically claims one idle worker and marks it
	// busy. Returns nil when no worker is available; never blocks.
	AcquireIdleWorker(ctx context.Context) (*model.Worker, error)

	// ReleaseWorker moves a busy worker back to idle (or to unreachable
	// when it failed to report) and clears its current task.
	ReleaseWorker(ctx context.Context, id string, state model.WorkerState) error

	// StaleWorkers returns idle/busy workers whose last heartbeat is
	// older than cutoff.
	StaleWorkers(ctx context.Context, cutoff time.Time) ([]*model.Worker, error)

	// ReapWorker marks a worker unreachable and requeues any task it
	// holds (assigned/running → pending, worker id cleared). Idempotent:
	// reaping an already-unreachable worker requeues nothing. Returns the
	// ids of requeued tasks.
	ReapWorker(ctx context.Context, id string) ([]string, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
