package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema contains the DDL for all dispatch tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		owner_id        TEXT NOT NULL DEFAULT '',
		state           TEXT NOT NULL DEFAULT 'pending',
		priority        REAL NOT NULL DEFAULT 0,
		assigned_worker TEXT NOT NULL DEFAULT '',
		failure_reason  TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		completed_at    TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS task_events (
		task_id    TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		from_state TEXT NOT NULL,
		to_state   TEXT NOT NULL,
		worker_id  TEXT NOT NULL DEFAULT '',
		note       TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		PRIMARY KEY (task_id, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS workers (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		endpoint       TEXT NOT NULL DEFAULT '',
		state          TEXT NOT NULL DEFAULT 'idle',
		current_task   TEXT NOT NULL DEFAULT '',
		last_heartbeat TEXT NOT NULL,
		registered_at  TEXT NOT NULL
	)`,

	// Dispatch-order index: the scheduler peeks the head of this ordering
	// on every cycle.
	`CREATE INDEX IF NOT EXISTS idx_tasks_dispatch ON tasks(state, priority DESC, created_at ASC, id ASC)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_worker ON tasks(assigned_worker)`,
	`CREATE INDEX IF NOT EXISTS idx_workers_state ON workers(state)`,
	`CREATE INDEX IF NOT EXISTS idx_workers_heartbeat ON workers(last_heartbeat)`,
}

// migrate applies the schema statements in order.
func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
