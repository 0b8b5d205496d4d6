package registry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/me/dispatch/internal/store"
	"github.com/me/dispatch/pkg/model"
)

func testRegistry(t *testing.T, timeout time.Duration) (*Registry, *store.SQLiteStore) {
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
	return New(st, timeout, logger), st
}

func TestRegisterNewWorker(t *testing.T) {
	reg, _ := testRegistry(t, 30*time.Second)
	ctx := context.Background()

	w, err := reg.Register(ctx, "", "node-1", "http://node-1:9000")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if w.ID == "" {
		t.Error("worker id not generated")
	}
	if w.State != model.WorkerStateIdle {
		t.Errorf("state = %s, want idle", w.State)
	}
}

func TestRegisterReactivatesByEndpoint(t *testing.T) {
	reg, _ := testRegistry(t, 30*time.Second)
	ctx := context.Background()

	first, err := reg.Register(ctx, "", "node-1", "http://node-1:9000")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Deregister(ctx, first.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}

	// Same endpoint comes back: same identity, idle again.
	second, err := reg.Register(ctx, "", "node-1-renamed", "http://node-1:9000")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-register created new id %s, want %s", second.ID, first.ID)
	}
	if second.State != model.WorkerStateIdle {
		t.Errorf("state = %s, want idle", second.State)
	}
	if second.Name != "node-1-renamed" {
		t.Errorf("name = %q, want updated name", second.Name)
	}
}

func TestRegisterExplicitIDWins(t *testing.T) {
	reg, _ := testRegistry(t, 30*time.Second)
	ctx := context.Background()

	first, err := reg.Register(ctx, "wrk_fixed", "node-1", "http://node-1:9000")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.ID != "wrk_fixed" {
		t.Fatalf("id = %s, want wrk_fixed", first.ID)
	}

	again, err := reg.Register(ctx, "wrk_fixed", "node-1", "http://node-1:9001")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.ID != "wrk_fixed" {
		t.Errorf("id = %s, want wrk_fixed", again.ID)
	}
	if again.Endpoint != "http://node-1:9001" {
		t.Errorf("endpoint = %s, want updated", again.Endpoint)
	}
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	reg, _ := testRegistry(t, 30*time.Second)

	_, err := reg.Heartbeat(context.Background(), "wrk_nope")
	if !model.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAcquireAssignRelease(t *testing.T) {
	reg, _ := testRegistry(t, 30*time.Second)
	ctx := context.Background()

	w, err := reg.Register(ctx, "", "node-1", "http://node-1:9000")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	claimed, err := reg.AcquireIdle(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if claimed == nil || claimed.ID != w.ID {
		t.Fatalf("claimed = %+v, want %s", claimed, w.ID)
	}

	if err := reg.Assign(ctx, w.ID, "tsk_1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	got, err := reg.Get(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentTask != "tsk_1" {
		t.Errorf("current_task = %q, want tsk_1", got.CurrentTask)
	}

	if err := reg.Release(ctx, w.ID, true); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, err = reg.Get(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.WorkerStateIdle {
		t.Errorf("state = %s, want idle", got.State)
	}
	if got.CurrentTask != "" {
		t.Errorf("current_task = %q, want cleared", got.CurrentTask)
	}
}

func TestReapStaleRequeuesHeldTask(t *testing.T) {
	reg, st := testRegistry(t, 50*time.Millisecond)
	ctx := context.Background()

	w, err := reg.Register(ctx, "", "node-1", "http://node-1:9000")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	now := time.Now().UTC()
	task := &model.Task{
		ID: "tsk_1", Name: "t", State: model.TaskStatePending,
		Priority: 1.0, CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := st.TransitionTask(ctx, "tsk_1", model.TaskStatePending, model.TaskStateAssigned, w.ID, ""); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := st.TransitionTask(ctx, "tsk_1", model.TaskStateAssigned, model.TaskStateRunning, w.ID, ""); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Let the heartbeat go stale.
	time.Sleep(80 * time.Millisecond)

	requeued, err := reg.ReapStale(ctx)
	if err != nil {
		t.Fatalf("reap stale: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != "tsk_1" {
		t.Fatalf("requeued = %v, want [tsk_1]", requeued)
	}

	got, err := st.GetTask(ctx, "tsk_1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.State != model.TaskStatePending {
		t.Errorf("state = %s, want pending", got.State)
	}

	// A second pass finds nothing new.
	again, err := reg.ReapStale(ctx)
	if err != nil {
		t.Fatalf("second reap: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second reap requeued %v, want none", again)
	}
}

func TestReapStaleSkipsFreshWorkers(t *testing.T) {
	reg, _ := testRegistry(t, time.Hour)
	ctx := context.Background()

	if _, err := reg.Register(ctx, "", "node-1", "http://node-1:9000"); err != nil {
		t.Fatalf("register: %v", err)
	}

	requeued, err := reg.ReapStale(ctx)
	if err != nil {
		t.Fatalf("reap stale: %v", err)
	}
	if len(requeued) != 0 {
		t.Errorf("requeued = %v, want none", requeued)
	}

	workers, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(workers) != 1 || workers[0].State != model.WorkerStateIdle {
		t.Errorf("worker should remain idle, got %+v", workers)
	}
}
