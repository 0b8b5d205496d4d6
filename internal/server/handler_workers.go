package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/dispatch/pkg/model"
)

// handleRegisterWorker creates or reactivates a worker record.
// POST /api/v1/workers
func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}

	if req.Name == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "name", Message: "name is required"}))
		return
	}

	worker, err := s.registry.Register(r.Context(), req.ID, req.Name, req.Endpoint)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	// A fresh idle worker may unblock a waiting queue head.
	s.notifyScheduler()
	respondCreated(w, reqID, worker)
}

// handleWorkerHeartbeat refreshes a worker's liveness timestamp.
// PUT /api/v1/workers/{id}/heartbeat
func (s *Server) handleWorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	worker, err := s.registry.Heartbeat(r.Context(), id)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	respondOK(w, reqID, map[string]any{
		"worker_id": worker.ID,
		"state":     worker.State,
	})
}

// handleWorkerPoll delivers the worker's current assignment, transitioning
// the task to running (the worker accepts by polling). 204 when the worker
// has no assigned task.
// GET /api/v1/workers/{id}/work
func (s *Server) handleWorkerPoll(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	worker, err := s.registry.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	if worker.CurrentTask == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	task, err := s.tasks.Accept(r.Context(), worker.CurrentTask, worker.ID)
	if err != nil {
		if model.IsConflict(err) {
			// Already accepted or reclaimed; nothing to hand out.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		respondServiceError(w, reqID, err)
		return
	}

	s.logger.Debug("task handed to worker", "worker_id", id, "task_id", task.ID)
	respondOK(w, reqID, task)
}

// handleWorkerReport records a worker's single terminal outcome for a task
// and returns the worker to the pool.
// PUT /api/v1/workers/{id}/tasks/{tid}/complete
func (s *Server) handleWorkerReport(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	workerID := chi.URLParam(r, "id")
	tid := chi.URLParam(r, "tid")

	var req struct {
		State  string `json:"state"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}

	var task *model.Task
	var err error
	switch model.TaskState(req.State) {
	case model.TaskStateCompleted:
		task, err = s.tasks.Complete(r.Context(), tid, workerID)
	case model.TaskStateFailed:
		task, err = s.tasks.Fail(r.Context(), tid, workerID, req.Reason)
	default:
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("state must be 'completed' or 'failed'",
				model.FieldError{Field: "state", Message: "unknown terminal state: " + req.State}))
		return
	}
	if err != nil {
		// A duplicate report loses the compare-and-set: surfaced as 409,
		// task state unchanged.
		respondServiceError(w, reqID, err)
		return
	}

	if err := s.registry.Release(r.Context(), workerID, true); err != nil {
		s.logger.Error("release worker after report", "worker_id", workerID, "error", err)
	}

	s.logger.Info("task outcome reported",
		"task_id", task.ID,
		"worker_id", workerID,
		"state", task.State,
	)

	s.notifyScheduler()
	respondOK(w, reqID, map[string]any{"task_id": task.ID, "state": task.State})
}

// handleDeregisterWorker retires a worker, requeueing anything it holds.
// DELETE /api/v1/workers/{id}
func (s *Server) handleDeregisterWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.registry.Deregister(r.Context(), id); err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	s.notifyScheduler()
	respondOK(w, reqID, map[string]any{"id": id, "deregistered": true})
}

// handleListWorkers returns all registered workers.
// GET /api/v1/workers
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	workers, err := s.registry.List(r.Context())
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}

	respondOK(w, reqID, workers)
}
