package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/dispatch/internal/registry"
	"github.com/me/dispatch/internal/store"
	"github.com/me/dispatch/pkg/model"
)

// Config holds dispatcher configuration.
type Config struct {
	// PollInterval is the liveness fallback: the loop also runs on this
	// cadence even if no wakeup arrives.
	PollInterval time.Duration

	// BackoffBase/BackoffMax bound the retry delay after infrastructure
	// errors (store unavailable). Task-specific failures do not back off.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		BackoffBase:  500 * time.Millisecond,
		BackoffMax:   30 * time.Second,
	}
}

// Dispatcher is the single scheduling loop of a deployment. Each cycle it
// reaps lost workers, then pairs the highest-priority pending task with an
// idle worker until either side runs out.
type Dispatcher struct {
	store    store.Store
	registry *registry.Registry
	handler  ExecHandler
	config   Config
	logger   *slog.Logger

	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	failures int
}

// NewDispatcher creates a dispatcher. handler decides how assignments reach
// workers (PullHandler for remote pollers, SimHandler for in-process runs).
func NewDispatcher(st store.Store, reg *registry.Registry, handler ExecHandler, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		registry: reg,
		handler:  handler,
		config:   cfg,
		logger:   logger.With("component", "dispatcher"),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Notify wakes the loop ahead of the poll interval. Safe to call from any
// goroutine; coalesces while a cycle is in flight.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop
// is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		"poll_interval", d.config.PollInterval,
		"heartbeat_timeout", d.registry.Timeout(),
	)
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping (context cancelled)")
			close(d.doneCh)
			return ctx.Err()
		case <-d.stopCh:
			d.logger.Info("dispatcher stopping (stop called)")
			close(d.doneCh)
			return nil
		case <-d.wake:
		case <-ticker.C:
		}

		if err := d.Tick(ctx); err != nil {
			d.failures++
			delay := d.backoff()
			d.logger.Error("dispatch cycle failed, backing off", "error", err, "delay", delay, "failures", d.failures)
			select {
			case <-ctx.Done():
			case <-d.stopCh:
			case <-time.After(delay):
			}
		} else {
			d.failures = 0
		}
	}
}

// Stop gracefully shuts down the dispatcher and waits for the current
// cycle to finish.
func (d *Dispatcher) Stop() error {
	close(d.stopCh)
	<-d.doneCh
	return nil
}

// backoff returns the delay for the current failure streak, doubling from
// BackoffBase up to BackoffMax.
func (d *Dispatcher) backoff() time.Duration {
	delay := d.config.BackoffBase
	for i := 1; i < d.failures; i++ {
		delay *= 2
		if delay >= d.config.BackoffMax {
			return d.config.BackoffMax
		}
	}
	if delay > d.config.BackoffMax {
		delay = d.config.BackoffMax
	}
	return delay
}

// Tick runs a single scheduling iteration. An error return means an
// infrastructure failure; task- and worker-specific failures are absorbed
// into state transitions.
func (d *Dispatcher) Tick(ctx context.Context) error {
	// Phase 1: reclaim tasks from workers that stopped heartbeating.
	requeued, err := d.registry.ReapStale(ctx)
	if err != nil {
		return fmt.Errorf("reap stale workers: %w", err)
	}
	if len(requeued) > 0 {
		d.logger.Info("requeued tasks from lost workers", "tasks", requeued)
	}

	// Phase 2: assign pending tasks to idle workers in priority order.
	for {
		task, err := d.store.NextPendingTask(ctx)
		if err != nil {
			return fmt.Errorf("next pending task: %w", err)
		}
		if task == nil {
			return nil
		}

		worker, err := d.registry.AcquireIdle(ctx)
		if err != nil {
			return fmt.Errorf("acquire idle worker: %w", err)
		}
		if worker == nil {
			// No idle worker; stay in idle-wait until a release or the
			// next poll interval.
			return nil
		}

		assigned, err := d.store.TransitionTask(ctx, task.ID,
			model.TaskStatePending, model.TaskStateAssigned, worker.ID, "")
		if err != nil {
			// Another path changed the task concurrently (requeue or
			// manual override). Put the worker back and pick the next head.
			if releaseErr := d.registry.Release(ctx, worker.ID, true); releaseErr != nil {
				d.logger.Error("release worker after lost assignment", "worker_id", worker.ID, "error", releaseErr)
			}
			if model.IsConflict(err) || model.IsNotFound(err) {
				d.logger.Warn("task changed under dispatcher, retrying", "task_id", task.ID, "error", err)
				continue
			}
			return fmt.Errorf("assign task %s: %w", task.ID, err)
		}

		if err := d.registry.Assign(ctx, worker.ID, task.ID); err != nil {
			d.logger.Error("record worker assignment", "worker_id", worker.ID, "task_id", task.ID, "error", err)
		}

		d.logger.Info("task assigned",
			"task_id", assigned.ID,
			"worker_id", worker.ID,
			"priority", assigned.Priority,
		)

		if err := d.handler.Assign(ctx, assigned, worker); err != nil {
			d.logger.Error("deliver assignment", "task_id", assigned.ID, "worker_id", worker.ID, "error", err)
			if _, reqErr := d.store.TransitionTask(ctx, assigned.ID,
				model.TaskStateAssigned, model.TaskStatePending, worker.ID,
				"assignment delivery failed: "+err.Error()); reqErr != nil {
				d.logger.Error("requeue after delivery failure", "task_id", assigned.ID, "error", reqErr)
			}
			// The worker did not take the work; mark it unreachable so the
			// loop does not immediately re-pair the same task with the same
			// worker. A later successful registration brings it back.
			if releaseErr := d.registry.Release(ctx, worker.ID, false); releaseErr != nil {
				d.logger.Error("release worker after delivery failure", "worker_id", worker.ID, "error", releaseErr)
			}
		}
	}
}
