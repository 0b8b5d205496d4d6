package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/me/dispatch/internal/config"
	"github.com/me/dispatch/internal/registry"
	"github.com/me/dispatch/internal/scorer"
	"github.com/me/dispatch/internal/store"
	"github.com/me/dispatch/internal/tasks"
	"github.com/me/dispatch/pkg/model"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultServerConfig()
	svc := tasks.NewService(st, scorer.NewLinear(cfg.MinPriority, cfg.MaxPriority), cfg.BaselinePriority, logger)
	reg := registry.New(st, cfg.HeartbeatTimeout, logger)

	return New(cfg, svc, reg, nil, logger)
}

type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: parse envelope: %v\nbody: %s", method, path, err, rec.Body.String())
		}
	}
	return rec, env
}

func submitTask(t *testing.T, srv *Server, name string) model.TaskView {
	t.Helper()
	rec, env := doJSON(t, srv, http.MethodPost, "/api/v1/tasks", map[string]string{
		"name": name, "description": "d", "owner_id": "alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: status %d, body %s", rec.Code, rec.Body.String())
	}
	var view model.TaskView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("parse task view: %v", err)
	}
	return view
}

func registerWorker(t *testing.T, srv *Server, name string) model.Worker {
	t.Helper()
	rec, env := doJSON(t, srv, http.MethodPost, "/api/v1/workers", map[string]string{
		"name": name, "endpoint": "http://" + name + ":9000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register worker: status %d, body %s", rec.Code, rec.Body.String())
	}
	var w model.Worker
	if err := json.Unmarshal(env.Data, &w); err != nil {
		t.Fatalf("parse worker: %v", err)
	}
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	rec, env := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if env.Status != "ok" {
		t.Errorf("envelope status = %s, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id missing from envelope")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestSubmitAndGetTask(t *testing.T) {
	srv := testServer(t)

	view := submitTask(t, srv, "encode-video")
	if view.State != model.TaskStatePending {
		t.Errorf("state = %s, want pending", view.State)
	}
	if view.Priority <= 0 {
		t.Errorf("priority = %v, want > 0", view.Priority)
	}

	rec, env := doJSON(t, srv, http.MethodGet, "/api/v1/tasks/"+view.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var got model.TaskView
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Name != "encode-video" {
		t.Errorf("name = %q, want encode-video", got.Name)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	srv := testServer(t)

	rec, env := doJSON(t, srv, http.MethodPost, "/api/v1/tasks", map[string]string{"name": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Fatalf("error = %+v, want VALIDATION", env.Error)
	}
	if len(env.Error.Details) == 0 || env.Error.Details[0].Field != "name" {
		t.Errorf("details = %+v, want name field error", env.Error.Details)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv := testServer(t)

	rec, env := doJSON(t, srv, http.MethodGet, "/api/v1/tasks/tsk_nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", env.Error)
	}
}

func TestListTasksFilteredByState(t *testing.T) {
	srv := testServer(t)

	submitTask(t, srv, "one")
	submitTask(t, srv, "two")

	rec, env := doJSON(t, srv, http.MethodGet, "/api/v1/tasks?state=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []model.TaskView
	if err := json.Unmarshal(env.Data, &views); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("pending tasks = %d, want 2", len(views))
	}

	rec, env = doJSON(t, srv, http.MethodGet, "/api/v1/tasks?state=completed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := json.Unmarshal(env.Data, &views); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("completed tasks = %d, want 0", len(views))
	}
}

func TestWorkerLifecycleOverAPI(t *testing.T) {
	srv := testServer(t)

	task := submitTask(t, srv, "work-item")
	w := registerWorker(t, srv, "node-1")

	// With no dispatcher running, pair them through the service directly.
	ctx := context.Background()
	if _, err := srv.tasks.Accept(ctx, task.ID, w.ID); err == nil {
		t.Fatal("accept before assignment should conflict")
	}
	claimed, err := srv.registry.AcquireIdle(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("acquire: %v %v", claimed, err)
	}
	if _, err := srv.tasks.List(ctx, ""); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := storeTransition(srv, task.ID, w.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := srv.registry.Assign(ctx, w.ID, task.ID); err != nil {
		t.Fatalf("record assignment: %v", err)
	}

	// Poll delivers the assignment and flips the task to running.
	rec, env := doJSON(t, srv, http.MethodGet, "/api/v1/workers/"+w.ID+"/work", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("poll: status %d, body %s", rec.Code, rec.Body.String())
	}
	var polled model.Task
	if err := json.Unmarshal(env.Data, &polled); err != nil {
		t.Fatalf("parse polled task: %v", err)
	}
	if polled.ID != task.ID || polled.State != model.TaskStateRunning {
		t.Fatalf("polled = %+v, want running %s", polled, task.ID)
	}

	// Heartbeat keeps the worker alive.
	rec, _ = doJSON(t, srv, http.MethodPut, "/api/v1/workers/"+w.ID+"/heartbeat", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat: status %d", rec.Code)
	}

	// Report success.
	rec, _ = doJSON(t, srv, http.MethodPut,
		"/api/v1/workers/"+w.ID+"/tasks/"+task.ID+"/complete",
		map[string]string{"state": "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("report: status %d, body %s", rec.Code, rec.Body.String())
	}

	// A duplicate report is a conflict, state unchanged.
	rec, env = doJSON(t, srv, http.MethodPut,
		"/api/v1/workers/"+w.ID+"/tasks/"+task.ID+"/complete",
		map[string]string{"state": "failed", "reason": "late"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate report: status %d, want 409", rec.Code)
	}
	if env.Error == nil || env.Error.Code != model.ErrConflict {
		t.Errorf("error = %+v, want CONFLICT", env.Error)
	}

	rec, env = doJSON(t, srv, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var final model.TaskView
	if err := json.Unmarshal(env.Data, &final); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if final.State != model.TaskStateCompleted {
		t.Errorf("state = %s, want completed", final.State)
	}

	// The worker is idle again.
	rec, env = doJSON(t, srv, http.MethodGet, "/api/v1/workers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list workers: status %d", rec.Code)
	}
	var workers []model.Worker
	if err := json.Unmarshal(env.Data, &workers); err != nil {
		t.Fatalf("parse workers: %v", err)
	}
	if len(workers) != 1 || workers[0].State != model.WorkerStateIdle {
		t.Errorf("workers = %+v, want one idle", workers)
	}
}

// storeTransition moves a pending task to assigned for handler tests that
// need an assignment without a running dispatcher.
func storeTransition(srv *Server, taskID, workerID string) (*model.Task, error) {
	return srv.tasks.Assign(context.Background(), taskID, workerID)
}

func TestWorkerPollNoWork(t *testing.T) {
	srv := testServer(t)
	w := registerWorker(t, srv, "node-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workers/"+w.ID+"/work", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestWorkerPollUnknownWorker(t *testing.T) {
	srv := testServer(t)

	rec, _ := doJSON(t, srv, http.MethodGet, "/api/v1/workers/wrk_nope/work", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRegisterWorkerValidation(t *testing.T) {
	srv := testServer(t)

	rec, env := doJSON(t, srv, http.MethodPost, "/api/v1/workers", map[string]string{"endpoint": "http://x:1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v, want VALIDATION", env.Error)
	}
}

func TestWorkerReportBadState(t *testing.T) {
	srv := testServer(t)
	w := registerWorker(t, srv, "node-1")

	rec, _ := doJSON(t, srv, http.MethodPut,
		"/api/v1/workers/"+w.ID+"/tasks/tsk_x/complete",
		map[string]string{"state": "paused"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeregisterWorkerRequeues(t *testing.T) {
	srv := testServer(t)
	ctx := context.Background()

	task := submitTask(t, srv, "held")
	w := registerWorker(t, srv, "node-1")

	if _, err := srv.registry.AcquireIdle(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := storeTransition(srv, task.ID, w.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	rec, _ := doJSON(t, srv, http.MethodDelete, "/api/v1/workers/"+w.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deregister: status %d", rec.Code)
	}

	rec, env := doJSON(t, srv, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var got model.TaskView
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.State != model.TaskStatePending {
		t.Errorf("state = %s, want pending after deregister", got.State)
	}
}

func TestCompleteOverrideEndpoint(t *testing.T) {
	srv := testServer(t)
	ctx := context.Background()

	task := submitTask(t, srv, "stuck")
	w := registerWorker(t, srv, "node-1")

	// Override on a pending task conflicts.
	rec, _ := doJSON(t, srv, http.MethodPut, "/api/v1/tasks/"+task.ID+"/complete", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("pending override: status %d, want 409", rec.Code)
	}

	if _, err := srv.registry.AcquireIdle(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := storeTransition(srv, task.ID, w.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := srv.tasks.Accept(ctx, task.ID, w.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	rec, env := doJSON(t, srv, http.MethodPut, "/api/v1/tasks/"+task.ID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("override: status %d, body %s", rec.Code, rec.Body.String())
	}
	var done model.TaskView
	if err := json.Unmarshal(env.Data, &done); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if done.State != model.TaskStateCompleted {
		t.Errorf("state = %s, want completed", done.State)
	}

	// The held worker went back to idle.
	got, err := srv.registry.Get(ctx, w.ID)
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if got.State != model.WorkerStateIdle {
		t.Errorf("worker state = %s, want idle", got.State)
	}
}

func TestTaskEventsEndpoint(t *testing.T) {
	srv := testServer(t)
	ctx := context.Background()

	task := submitTask(t, srv, "audited")
	w := registerWorker(t, srv, "node-1")

	if _, err := srv.registry.AcquireIdle(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := storeTransition(srv, task.ID, w.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := srv.tasks.Accept(ctx, task.ID, w.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	rec, env := doJSON(t, srv, http.MethodGet, "/api/v1/tasks/"+task.ID+"/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events: status %d", rec.Code)
	}
	var events []model.TaskEvent
	if err := json.Unmarshal(env.Data, &events); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("event count = %d, want 3", len(events))
	}
	if events[0].To != model.TaskStatePending ||
		events[1].To != model.TaskStateAssigned ||
		events[2].To != model.TaskStateRunning {
		t.Errorf("events = %+v, want created, assigned, running", events)
	}
}
