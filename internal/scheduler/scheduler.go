package scheduler

import "context"

// Scheduler pairs pending tasks with idle workers in priority order and
// recovers tasks from lost workers.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) error

	// Notify wakes the scheduling loop ahead of its poll interval, e.g.
	// after a task submission or a worker release. Never blocks.
	Notify()
}
