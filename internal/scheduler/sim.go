package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/dispatch/internal/registry"
	"github.com/me/dispatch/internal/tasks"
	"github.com/me/dispatch/internal/worker"
	"github.com/me/dispatch/pkg/model"
)

// SimHandler runs assignments in-process with the simulated runtime. Each
// assignment is accepted (assigned → running), executed, and reported with
// exactly one terminal outcome before the worker is released. Used by tests
// and by the server's --sim-workers mode.
type SimHandler struct {
	tasks    *tasks.Service
	registry *registry.Registry
	runtime  worker.Runtime
	notify   func()
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewSimHandler creates a SimHandler. notify, if non-nil, is called after
// every worker release so the dispatcher wakes immediately.
func NewSimHandler(svc *tasks.Service, reg *registry.Registry, rt worker.Runtime, notify func(), logger *slog.Logger) *SimHandler {
	return &SimHandler{
		tasks:    svc,
		registry: reg,
		runtime:  rt,
		notify:   notify,
		logger:   logger.With("component", "sim-handler"),
	}
}

// RunWorkers registers count in-process workers and keeps their
// heartbeats fresh until ctx is cancelled. They live in this process, so
// without the refresh the reap phase would mark them unreachable after
// the heartbeat timeout and dispatch would halt for good.
func (h *SimHandler) RunWorkers(ctx context.Context, count int, interval time.Duration) ([]*model.Worker, error) {
	workers := make([]*model.Worker, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("sim-%d", i)
		w, err := h.registry.Register(ctx, "", name, "sim://"+name)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		workers = append(workers, w)
	}
	go h.heartbeatLoop(ctx, workers, interval)
	return workers, nil
}

func (h *SimHandler) heartbeatLoop(ctx context.Context, workers []*model.Worker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range workers {
				if _, err := h.registry.Heartbeat(ctx, w.ID); err != nil {
					h.logger.Warn("simulated worker heartbeat", "worker_id", w.ID, "error", err)
				}
			}
		}
	}
}

// Assign starts the simulated execution in a goroutine and returns
// immediately so the dispatch loop keeps draining the queue.
func (h *SimHandler) Assign(ctx context.Context, task *model.Task, w *model.Worker) error {
	h.wg.Add(1)
	go h.run(ctx, task, w)
	return nil
}

// Wait blocks until all in-flight simulated executions have reported.
func (h *SimHandler) Wait() {
	h.wg.Wait()
}

func (h *SimHandler) run(ctx context.Context, task *model.Task, w *model.Worker) {
	defer h.wg.Done()

	// Accept the assignment.
	if _, err := h.tasks.Accept(ctx, task.ID, w.ID); err != nil {
		// The task was taken away (e.g. requeued) before we started;
		// put the worker back and let the dispatcher re-pair it.
		h.logger.Warn("could not accept assignment", "task_id", task.ID, "worker_id", w.ID, "error", err)
		h.release(ctx, w.ID)
		return
	}

	if err := h.runtime.Run(ctx, task.Priority); err != nil {
		if _, failErr := h.tasks.Fail(ctx, task.ID, w.ID, err.Error()); failErr != nil && !model.IsConflict(failErr) {
			h.logger.Error("report failure", "task_id", task.ID, "error", failErr)
		}
		h.release(ctx, w.ID)
		return
	}

	if _, err := h.tasks.Complete(ctx, task.ID, w.ID); err != nil {
		if model.IsConflict(err) {
			// Someone else reported a terminal state first; the
			// compare-and-set makes this report a no-op.
			h.logger.Warn("completion superseded", "task_id", task.ID, "error", err)
		} else {
			h.logger.Error("report completion", "task_id", task.ID, "error", err)
		}
	} else {
		h.logger.Info("task completed (simulated)", "task_id", task.ID, "worker_id", w.ID,
			"duration", h.runtime.Duration(task.Priority))
	}
	h.release(ctx, w.ID)
}

func (h *SimHandler) release(ctx context.Context, workerID string) {
	if err := h.registry.Release(ctx, workerID, true); err != nil {
		h.logger.Error("release worker", "worker_id", workerID, "error", err)
	}
	if h.notify != nil {
		h.notify()
	}
}
