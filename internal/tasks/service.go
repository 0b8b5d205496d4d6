// Package tasks implements the task store's service surface: validated
// submission with priority scoring, state transitions, and the read views
// consumed by the API layer.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/me/dispatch/internal/scorer"
	"github.com/me/dispatch/internal/store"
	"github.com/me/dispatch/pkg/model"
)

// Service owns task creation and lifecycle convenience operations. The
// dispatcher and the API handlers both go through it, so validation and
// scoring fallback live in exactly one place.
type Service struct {
	store    store.Store
	scorer   scorer.Scorer
	baseline float64
	logger   *slog.Logger
}

// NewService creates a task service. baseline is the priority used when the
// scorer fails; scoring failure never fails a submission.
func NewService(st store.Store, sc scorer.Scorer, baseline float64, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		scorer:   sc,
		baseline: baseline,
		logger:   logger.With("component", "tasks"),
	}
}

// Submit validates, scores and persists a new task in the pending state.
// An empty name is rejected before any state change.
func (s *Service) Submit(ctx context.Context, name, description, ownerID string) (*model.Task, error) {
	if strings.TrimSpace(name) == "" {
		return nil, model.NewValidationError("missing required field",
			model.FieldError{Field: "name", Message: "name is required"})
	}

	priority, err := s.scorer.Score(scorer.Features{
		NameLength:        len(name),
		DescriptionLength: len(description),
		OwnerID:           ownerID,
	})
	if err != nil {
		s.logger.Warn("scorer failed, using baseline priority",
			"name", name, "baseline", s.baseline, "error", err)
		priority = s.baseline
	}

	now := time.Now().UTC()
	task := &model.Task{
		ID:          "tsk_" + uuid.New().String(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		State:       model.TaskStatePending,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.logger.Info("task submitted", "task_id", task.ID, "name", task.Name, "priority", task.Priority)
	return task, nil
}

// Get returns a task or a NOT_FOUND error.
func (s *Service) Get(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, model.NewNotFoundError("task", id)
	}
	return task, nil
}

// List returns tasks, optionally filtered by state.
func (s *Service) List(ctx context.Context, state model.TaskState) ([]*model.Task, error) {
	return s.store.ListTasks(ctx, state)
}

// Events returns a task's audit trail.
func (s *Service) Events(ctx context.Context, id string) ([]*model.TaskEvent, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, model.NewNotFoundError("task", id)
	}
	return s.store.TaskEvents(ctx, id)
}

// Assign transitions a pending task to assigned for the given worker. The
// dispatcher is the normal caller; the compare-and-set keeps a task from
// being handed out twice.
func (s *Service) Assign(ctx context.Context, id, workerID string) (*model.Task, error) {
	return s.store.TransitionTask(ctx, id, model.TaskStatePending, model.TaskStateAssigned, workerID, "")
}

// Accept transitions an assigned task to running on behalf of its worker.
func (s *Service) Accept(ctx context.Context, id, workerID string) (*model.Task, error) {
	return s.store.TransitionTask(ctx, id, model.TaskStateAssigned, model.TaskStateRunning, workerID, "")
}

// Complete reports successful execution. Valid only from running; a
// duplicate report loses the compare-and-set and surfaces a ConflictError
// without corrupting state.
func (s *Service) Complete(ctx context.Context, id, workerID string) (*model.Task, error) {
	return s.store.TransitionTask(ctx, id, model.TaskStateRunning, model.TaskStateCompleted, workerID, "")
}

// Fail reports unrecoverable execution failure with a reason. Valid only
// from running.
func (s *Service) Fail(ctx context.Context, id, workerID, reason string) (*model.Task, error) {
	return s.store.TransitionTask(ctx, id, model.TaskStateRunning, model.TaskStateFailed, workerID, reason)
}

// CompleteOverride is the caller-initiated manual completion: equivalent to
// a worker's success report, so it is accepted only from the running state
// and conflicts otherwise. The returned task still carries the worker id
// it was assigned to, so the caller can release that worker.
func (s *Service) CompleteOverride(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, model.NewNotFoundError("task", id)
	}
	return s.store.TransitionTask(ctx, id, model.TaskStateRunning, model.TaskStateCompleted, task.AssignedWorker, "manual override")
}
