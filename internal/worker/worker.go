package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/dispatch/pkg/model"
)

// Worker is the remote work loop: it registers with the server, polls for
// its current assignment, simulates execution for a priority-derived
// duration, and reports the outcome exactly once per execution.
type Worker struct {
	client    *Client
	runtime   Runtime
	poll      time.Duration
	heartbeat time.Duration
	logger    *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	ServerURL string
	Name      string
	Endpoint  string
	Poll      time.Duration
	Heartbeat time.Duration
}

// New creates a Worker from configuration.
func New(cfg Config, rt Runtime, logger *slog.Logger) *Worker {
	if cfg.Poll == 0 {
		cfg.Poll = 2 * time.Second
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 10 * time.Second
	}

	return &Worker{
		client:    NewClient(cfg.ServerURL),
		runtime:   rt,
		poll:      cfg.Poll,
		heartbeat: cfg.Heartbeat,
		logger:    logger.With("component", "worker"),
	}
}

// Run starts the main work loop. It registers with the server, then loops
// polling for assignments until the context is cancelled. Heartbeat runs in
// a separate goroutine so it continues during task execution.
func (w *Worker) Run(ctx context.Context, cfg Config) error {
	worker, err := w.client.Register(ctx, cfg.Name, cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	w.logger.Info("registered with server",
		"worker_id", worker.ID,
		"name", worker.Name,
	)

	go w.heartbeatLoop(ctx)

	return w.taskLoop(ctx)
}

// heartbeatLoop sends heartbeats at regular intervals until context is cancelled.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.Heartbeat(ctx); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// taskLoop polls for assignments and executes them until context is cancelled.
func (w *Worker) taskLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down, deregistering...")
			// Use a fresh context for deregistration.
			deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := w.client.Deregister(deregCtx)
			cancel()
			if err != nil {
				w.logger.Error("deregister failed", "error", err)
			}
			return nil

		case <-ticker.C:
			if err := w.pollAndExecute(ctx); err != nil {
				w.logger.Error("poll error", "error", err)
			}
		}
	}
}

// pollAndExecute checks for an assignment and executes it if present.
// Heartbeat is handled by a separate goroutine, so this can block.
func (w *Worker) pollAndExecute(ctx context.Context) error {
	task, err := w.client.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	if task == nil {
		return nil // No work available
	}

	w.logger.Info("task received",
		"task_id", task.ID,
		"priority", task.Priority,
		"duration", w.runtime.Duration(task.Priority).String(),
	)

	if err := w.runtime.Run(ctx, task.Priority); err != nil {
		w.logger.Error("task execution failed", "task_id", task.ID, "error", err)
		if rerr := w.client.ReportComplete(ctx, task.ID, model.TaskStateFailed, err.Error()); rerr != nil {
			return fmt.Errorf("report failure: %w (original: %v)", rerr, err)
		}
		return nil
	}

	if err := w.client.ReportComplete(ctx, task.ID, model.TaskStateCompleted, ""); err != nil {
		return fmt.Errorf("report complete: %w", err)
	}

	w.logger.Info("task completed", "task_id", task.ID)
	return nil
}
