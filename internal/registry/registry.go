// Package registry tracks known workers, their availability and liveness.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/me/dispatch/internal/store"
	"github.com/me/dispatch/pkg/model"
)

// Registry is the authoritative view of the worker pool. Availability
// changes go through the store's atomic primitives, so a worker is busy
// for at most one task at a time.
type Registry struct {
	store   store.Store
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Registry. timeout is the heartbeat silence after which a
// worker is considered lost.
func New(st store.Store, timeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		store:   st,
		timeout: timeout,
		logger:  logger.With("component", "registry"),
	}
}

// Timeout returns the configured heartbeat timeout.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// Register adds a worker as idle, or reactivates an existing one. Identity
// resolution: an explicit id wins; otherwise a worker re-registering with a
// known endpoint gets its old record back instead of a second id.
func (r *Registry) Register(ctx context.Context, id, name, endpoint string) (*model.Worker, error) {
	var existing *model.Worker
	var err error
	if id != "" {
		existing, err = r.store.GetWorker(ctx, id)
	} else if endpoint != "" {
		existing, err = r.store.GetWorkerByEndpoint(ctx, endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup worker: %w", err)
	}

	now := time.Now().UTC()
	if existing != nil {
		existing.Name = name
		existing.Endpoint = endpoint
		existing.State = model.WorkerStateIdle
		existing.CurrentTask = ""
		existing.LastHeartbeat = now
		if err := r.store.UpdateWorker(ctx, existing); err != nil {
			return nil, fmt.Errorf("reactivate worker: %w", err)
		}
		r.logger.Info("worker reactivated", "worker_id", existing.ID, "name", name)
		return existing, nil
	}

	if id == "" {
		id = "wrk_" + uuid.New().String()
	}
	w := &model.Worker{
		ID:            id,
		Name:          name,
		Endpoint:      endpoint,
		State:         model.WorkerStateIdle,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	if err := r.store.CreateWorker(ctx, w); err != nil {
		return nil, fmt.Errorf("create worker: %w", err)
	}
	r.logger.Info("worker registered", "worker_id", w.ID, "name", name, "endpoint", endpoint)
	return w, nil
}

// Heartbeat refreshes a worker's liveness timestamp.
func (r *Registry) Heartbeat(ctx context.Context, id string) (*model.Worker, error) {
	w, err := r.store.GetWorker(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	if w == nil {
		return nil, model.NewNotFoundError("worker", id)
	}

	w.LastHeartbeat = time.Now().UTC()
	if err := r.store.UpdateWorker(ctx, w); err != nil {
		return nil, fmt.Errorf("update heartbeat: %w", err)
	}
	return w, nil
}

// AcquireIdle atomically claims one idle worker, marking it busy. Returns
// nil when none is available; never blocks.
func (r *Registry) AcquireIdle(ctx context.Context) (*model.Worker, error) {
	return r.store.AcquireIdleWorker(ctx)
}

// Assign records the task a busy worker now holds.
func (r *Registry) Assign(ctx context.Context, workerID, taskID string) error {
	w, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return fmt.Errorf("get worker: %w", err)
	}
	if w == nil {
		return model.NewNotFoundError("worker", workerID)
	}
	w.CurrentTask = taskID
	return r.store.UpdateWorker(ctx, w)
}

// Release returns a worker to the pool after its task finished. ok=false
// marks it unreachable instead (it failed to report).
func (r *Registry) Release(ctx context.Context, id string, ok bool) error {
	state := model.WorkerStateIdle
	if !ok {
		state = model.WorkerStateUnreachable
	}
	if err := r.store.ReleaseWorker(ctx, id, state); err != nil {
		return err
	}
	r.logger.Debug("worker released", "worker_id", id, "state", state)
	return nil
}

// Get returns a worker or a NOT_FOUND error.
func (r *Registry) Get(ctx context.Context, id string) (*model.Worker, error) {
	w, err := r.store.GetWorker(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	if w == nil {
		return nil, model.NewNotFoundError("worker", id)
	}
	return w, nil
}

// List returns all known workers.
func (r *Registry) List(ctx context.Context) ([]*model.Worker, error) {
	return r.store.ListWorkers(ctx)
}

// Deregister marks a worker unreachable and requeues anything it holds.
// Used for graceful worker shutdown; the record stays for audit.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	requeued, err := r.store.ReapWorker(ctx, id)
	if err != nil {
		return err
	}
	r.logger.Info("worker deregistered", "worker_id", id, "requeued", len(requeued))
	return nil
}

// ReapStale marks workers silent past the heartbeat timeout unreachable and
// requeues their tasks. This is the sole automatic recovery path for worker
// loss; repeating it does not requeue a task twice. Returns requeued task ids.
func (r *Registry) ReapStale(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-r.timeout)
	stale, err := r.store.StaleWorkers(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale workers: %w", err)
	}

	var requeued []string
	for _, w := range stale {
		tasks, err := r.store.ReapWorker(ctx, w.ID)
		if err != nil {
			r.logger.Error("reap worker", "worker_id", w.ID, "error", err)
			continue
		}
		r.logger.Warn("worker lost (heartbeat timeout)",
			"worker_id", w.ID,
			"last_heartbeat", w.LastHeartbeat,
			"requeued_tasks", tasks,
		)
		requeued = append(requeued, tasks...)
	}
	return requeued, nil
}
