package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/taskd/pkg/model"
)

// metrics holds the loop counters. All fields are safe for concurrent use;
// HTTP handlers read them while the loop writes.
type metrics struct {
	cycles            atomic.Uint64
	pollFailures      atomic.Uint64
	executed          atomic.Uint64
	executionFailures atomic.Uint64
	interrupted       atomic.Uint64
	leaseExpired      atomic.Uint64
	deleted           atomic.Uint64
	rescheduled       atomic.Uint64
	reconcileFailures atomic.Uint64

	mu            sync.Mutex
	lastCycleAt   time.Time
	lastCycleTook time.Duration
}

func (m *metrics) cycleDone(at time.Time, took time.Duration) {
	m.cycles.Add(1)
	m.mu.Lock()
	m.lastCycleAt = at
	m.lastCycleTook = took
	m.mu.Unlock()
}

func (m *metrics) snapshot(owner string) model.SchedulerStats {
	s := model.SchedulerStats{
		Owner:             owner,
		Cycles:            m.cycles.Load(),
		PollFailures:      m.pollFailures.Load(),
		Executed:          m.executed.Load(),
		ExecutionFailures: m.executionFailures.Load(),
		Interrupted:       m.interrupted.Load(),
		LeaseExpired:      m.leaseExpired.Load(),
		Deleted:           m.deleted.Load(),
		Rescheduled:       m.rescheduled.Load(),
		ReconcileFailures: m.reconcileFailures.Load(),
	}
	m.mu.Lock()
	if !m.lastCycleAt.IsZero() {
		at := m.lastCycleAt
		s.LastCycleAt = &at
		s.LastCycleDuration = m.lastCycleTook.String()
	}
	m.mu.Unlock()
	return s
}
