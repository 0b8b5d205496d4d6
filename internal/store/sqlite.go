package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/dispatch/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

const taskColumns = `id, name, description, owner_id, state, priority, assigned_worker, failure_reason, created_at, updated_at, completed_at`

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var state, createdAt, updatedAt string
	var completedAt *string

	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.OwnerID, &state,
		&t.Priority, &t.AssignedWorker, &t.FailureReason,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.State = model.TaskState(state)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if completedAt != nil {
		ts, _ := time.Parse(time.RFC3339Nano, *completedAt)
		t.CompletedAt = &ts
	}
	return &t, nil
}

// --- Task operations ---

func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	s.logger.Debug("sql", "op", "insert", "table", "tasks", "id", task.ID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	createdAt := task.CreatedAt.UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		task.ID, task.Name, task.Description, task.OwnerID, string(task.State),
		task.Priority, task.AssignedWorker, task.FailureReason,
		createdAt,
		task.UpdatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}

	// The audit trail starts at creation, not at the first transition.
	if err := appendEvent(ctx, tx, task.ID, "", task.State, "", "", createdAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.logger.Debug("sql", "op", "select", "table", "tasks", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, state model.TaskState) ([]*model.Task, error) {
	s.logger.Debug("sql", "op", "list", "table", "tasks", "state", state)

	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at ASC, id ASC`
	args := []any{}
	if state != "" {
		query = `SELECT ` + taskColumns + ` FROM tasks WHERE state = ? ORDER BY created_at ASC, id ASC`
		args = append(args, string(state))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) NextPendingTask(ctx context.Context) (*model.Task, error) {
	s.logger.Debug("sql", "op", "next_pending", "table", "tasks")

	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE state = 'pending'
		 ORDER BY priority DESC, created_at ASC, id ASC
		 LIMIT 1`)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// TransitionTask performs the compare-and-set at the core of the task state
// machine. The UPDATE's WHERE clause re-checks the expected state, so two
// concurrent transition attempts on the same task never both succeed; the
// loser gets a *model.ConflictError carrying the actual state.
func (s *SQLiteStore) TransitionTask(ctx context.Context, id string, expected, next model.TaskState, workerID, note string) (*model.Task, error) {
	s.logger.Debug("sql", "op", "transition", "table", "tasks", "id", id,
		"from", expected, "to", next, "worker_id", workerID)

	if !expected.CanTransitionTo(next) {
		return nil, fmt.Errorf("invalid task transition %s → %s", expected, next)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("task", id)
	}
	if err != nil {
		return nil, err
	}
	if task.State != expected {
		return nil, &model.ConflictError{
			Entity:   "task",
			ID:       id,
			Expected: string(expected),
			Actual:   string(task.State),
		}
	}

	// Worker-attributed transitions out of a held state are fenced to the
	// current holder: a worker whose assignment was reclaimed cannot move
	// the task after it was handed to someone else.
	fenced := workerID != "" &&
		(expected == model.TaskStateAssigned || expected == model.TaskStateRunning)
	if fenced && task.AssignedWorker != workerID {
		return nil, &model.ConflictError{
			Entity:   "task",
			ID:       id,
			Expected: "held by " + workerID,
			Actual:   "held by " + task.AssignedWorker,
		}
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	// State-specific field updates.
	assignedWorker := task.AssignedWorker
	failureReason := task.FailureReason
	var completedAt *string
	switch next {
	case model.TaskStateAssigned:
		assignedWorker = workerID
	case model.TaskStatePending:
		assignedWorker = ""
	case model.TaskStateCompleted:
		completedAt = &nowStr
	case model.TaskStateFailed:
		failureReason = note
		completedAt = &nowStr
	}

	query := `UPDATE tasks
		 SET state = ?, assigned_worker = ?, failure_reason = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND state = ?`
	args := []any{string(next), assignedWorker, failureReason, nowStr, completedAt, id, string(expected)}
	if fenced {
		query += ` AND assigned_worker = ?`
		args = append(args, workerID)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &model.ConflictError{
			Entity:   "task",
			ID:       id,
			Expected: string(expected),
			Actual:   string(task.State),
		}
	}

	if err := appendEvent(ctx, tx, id, expected, next, workerID, note, nowStr); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	task.State = next
	task.AssignedWorker = assignedWorker
	task.FailureReason = failureReason
	task.UpdatedAt = now
	if completedAt != nil {
		task.CompletedAt = &now
	}
	return task, nil
}

// appendEvent records one audit entry for a task inside the caller's
// transaction. Seq is derived under the same transaction, so it is
// gap-free and strictly increasing per task.
func appendEvent(ctx context.Context, tx *sql.Tx, taskID string, from, to model.TaskState, workerID, note, nowStr string) error {
	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM task_events WHERE task_id = ?`, taskID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO task_events (task_id, seq, from_state, to_state, worker_id, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		taskID, seq, string(from), string(to), workerID, note, nowStr)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TaskEvents(ctx context.Context, id string) ([]*model.TaskEvent, error) {
	s.logger.Debug("sql", "op", "select", "table", "task_events", "task_id", id)

	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, seq, from_state, to_state, worker_id, note, created_at
		 FROM task_events WHERE task_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.TaskEvent
	for rows.Next() {
		var ev model.TaskEvent
		var from, to, createdAt string
		if err := rows.Scan(&ev.TaskID, &ev.Seq, &from, &to, &ev.WorkerID, &ev.Note, &createdAt); err != nil {
			return nil, err
		}
		ev.From = model.TaskState(from)
		ev.To = model.TaskState(to)
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// --- Worker operations ---

const workerColumns = `id, name, endpoint, state, current_task, last_heartbeat, registered_at`

func scanWorker(row rowScanner) (*model.Worker, error) {
	var w model.Worker
	var state, lastHeartbeat, registeredAt string

	err := row.Scan(&w.ID, &w.Name, &w.Endpoint, &state, &w.CurrentTask,
		&lastHeartbeat, &registeredAt)
	if err != nil {
		return nil, err
	}

	w.State = model.WorkerState(state)
	w.LastHeartbeat, _ = time.Parse(time.RFC3339Nano, lastHeartbeat)
	w.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registeredAt)
	return &w, nil
}

func (s *SQLiteStore) CreateWorker(ctx context.Context, w *model.Worker) error {
	s.logger.Debug("sql", "op", "insert", "table", "workers", "id", w.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workers (`+workerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Endpoint, string(w.State), w.CurrentTask,
		w.LastHeartbeat.UTC().Format(time.RFC3339Nano),
		w.RegisteredAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) GetWorker(ctx context.Context, id string) (*model.Worker, error) {
	s.logger.Debug("sql", "op", "select", "table", "workers", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *SQLiteStore) GetWorkerByEndpoint(ctx context.Context, endpoint string) (*model.Worker, error) {
	s.logger.Debug("sql", "op", "select_by_endpoint", "table", "workers", "endpoint", endpoint)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE endpoint = ? LIMIT 1`, endpoint)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *SQLiteStore) ListWorkers(ctx context.Context) ([]*model.Worker, error) {
	s.logger.Debug("sql", "op", "list", "table", "workers")

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM workers ORDER BY registered_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

func (s *SQLiteStore) UpdateWorker(ctx context.Context, w *model.Worker) error {
	s.logger.Debug("sql", "op", "update", "table", "workers", "id", w.ID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE workers
		 SET name = ?, endpoint = ?, state = ?, current_task = ?, last_heartbeat = ?
		 WHERE id = ?`,
		w.Name, w.Endpoint, string(w.State), w.CurrentTask,
		w.LastHeartbeat.UTC().Format(time.RFC3339Nano), w.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NewNotFoundError("worker", w.ID)
	}
	return nil
}

// AcquireIdleWorker claims one idle worker inside a transaction: the
// claiming UPDATE re-checks the idle state, so two concurrent acquisitions
// can never claim the same worker.
func (s *SQLiteStore) AcquireIdleWorker(ctx context.Context) (*model.Worker, error) {
	s.logger.Debug("sql", "op", "acquire_idle", "table", "workers")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers
		 WHERE state = 'idle'
		 ORDER BY registered_at ASC, id ASC
		 LIMIT 1`)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE workers SET state = 'busy' WHERE id = ? AND state = 'idle'`, w.ID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost a race; treat as no worker available and let the caller retry.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit acquire: %w", err)
	}

	w.State = model.WorkerStateBusy
	return w, nil
}

func (s *SQLiteStore) ReleaseWorker(ctx context.Context, id string, state model.WorkerState) error {
	s.logger.Debug("sql", "op", "release", "table", "workers", "id", id, "state", state)

	res, err := s.db.ExecContext(ctx,
		`UPDATE workers SET state = ?, current_task = '' WHERE id = ?`,
		string(state), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NewNotFoundError("worker", id)
	}
	return nil
}

// StaleWorkers filters heartbeat age in Go rather than SQL: RFC3339Nano
// strings with variable fraction lengths do not compare lexicographically.
func (s *SQLiteStore) StaleWorkers(ctx context.Context, cutoff time.Time) ([]*model.Worker, error) {
	s.logger.Debug("sql", "op", "stale_workers", "table", "workers", "cutoff", cutoff)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE state IN ('idle', 'busy')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		if w.LastHeartbeat.Before(cutoff) {
			stale = append(stale, w)
		}
	}
	return stale, rows.Err()
}

// ReapWorker marks a worker unreachable and requeues its in-flight task in
// one transaction. The per-task CAS makes a repeated reap a no-op: once the
// task is back to pending with no assigned worker, nothing matches.
func (s *SQLiteStore) ReapWorker(ctx context.Context, id string) ([]string, error) {
	s.logger.Debug("sql", "op", "reap", "table", "workers", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, model.NewNotFoundError("worker", id)
	}
	if err != nil {
		return nil, err
	}
	if w.State == model.WorkerStateUnreachable {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE workers SET state = 'unreachable', current_task = '' WHERE id = ?`, id); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE assigned_worker = ? AND state IN ('assigned', 'running')`, id)
	if err != nil {
		return nil, err
	}
	var held []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		held = append(held, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	nowStr := time.Now().UTC().Format(time.RFC3339Nano)
	var requeued []string
	for _, task := range held {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET state = 'pending', assigned_worker = '', updated_at = ?
			 WHERE id = ? AND state = ?`,
			nowStr, task.ID, string(task.State))
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		if err := appendEvent(ctx, tx, task.ID, task.State, model.TaskStatePending, id, "worker unreachable", nowStr); err != nil {
			return nil, err
		}
		requeued = append(requeued, task.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reap: %w", err)
	}
	return requeued, nil
}
