package scheduler

import (
	"context"

	"github.com/me/taskd/pkg/model"
)

// Scheduler polls the store for due tasks, executes them, and removes or
// reschedules them afterwards.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) error

	// Stats returns a snapshot of the loop counters.
	Stats() model.SchedulerStats
}
