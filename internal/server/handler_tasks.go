package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/dispatch/pkg/model"
)

// handleSubmitTask creates a new task and wakes the dispatcher.
// POST /api/v1/tasks
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		OwnerID     string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}

	task, err := s.tasks.Submit(r.Context(), req.Name, req.Description, req.OwnerID)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	s.notifyScheduler()
	respondCreated(w, reqID, task.View())
}

// handleGetTask returns a task view.
// GET /api/v1/tasks/{id}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	respondOK(w, reqID, task.View())
}

// handleListTasks returns tasks, optionally filtered by ?state=.
// GET /api/v1/tasks
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	state := model.TaskState(r.URL.Query().Get("state"))

	list, err := s.tasks.List(r.Context(), state)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	views := make([]model.TaskView, 0, len(list))
	for _, t := range list {
		views = append(views, t.View())
	}
	respondOK(w, reqID, views)
}

// handleTaskEvents returns a task's audit trail.
// GET /api/v1/tasks/{id}/events
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	events, err := s.tasks.Events(r.Context(), id)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	respondOK(w, reqID, events)
}

// handleCompleteTask is the caller-initiated manual completion override.
// PUT /api/v1/tasks/{id}/complete
func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, err := s.tasks.CompleteOverride(r.Context(), id)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	// The override completed the task on the worker's behalf; return the
	// worker to the pool.
	if task.AssignedWorker != "" {
		if err := s.registry.Release(r.Context(), task.AssignedWorker, true); err != nil {
			s.logger.Error("release worker after override", "worker_id", task.AssignedWorker, "error", err)
		}
	}

	s.logger.Info("task completed by override", "task_id", task.ID)
	s.notifyScheduler()
	respondOK(w, reqID, task.View())
}
