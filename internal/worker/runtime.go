package worker

import (
	"context"
	"time"
)

// Runtime is the reference execution strategy: deterministic simulated work
// whose duration is inversely proportional to the task's priority, bounded
// by Min and Max. Real execution strategies may replace it with arbitrary
// work as long as they report exactly one terminal outcome per assignment.
type Runtime struct {
	Base time.Duration // duration at priority 1.0
	Min  time.Duration
	Max  time.Duration
}

// DefaultRuntime returns the standard simulation bounds.
func DefaultRuntime() Runtime {
	return Runtime{
		Base: 5 * time.Second,
		Min:  100 * time.Millisecond,
		Max:  10 * time.Second,
	}
}

// Duration computes the simulated execution time for a priority. Higher
// priority means shorter work; non-positive priorities get the maximum.
func (r Runtime) Duration(priority float64) time.Duration {
	if priority <= 0 {
		return r.Max
	}
	d := time.Duration(float64(r.Base) / priority)
	if d < r.Min {
		return r.Min
	}
	if d > r.Max {
		return r.Max
	}
	return d
}

// Run blocks for the simulated duration or until ctx is cancelled.
func (r Runtime) Run(ctx context.Context, priority float64) error {
	timer := time.NewTimer(r.Duration(priority))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
