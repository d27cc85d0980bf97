package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// CreateTaskResponse is the data payload of a successful POST /task.
type CreateTaskResponse struct {
	ID int64 `json:"id"`
}

// DeleteTaskResponse is the data payload of DELETE /task/{id}.
type DeleteTaskResponse struct {
	Deleted int64 `json:"deleted"`
}

// SchedulerStats is a point-in-time snapshot of scheduler loop counters.
type SchedulerStats struct {
	Owner             string     `json:"owner"`
	Cycles            uint64     `json:"cycles"`
	PollFailures      uint64     `json:"poll_failures"`
	Executed          uint64     `json:"executed"`
	ExecutionFailures uint64     `json:"execution_failures"`
	Interrupted       uint64     `json:"interrupted"`
	LeaseExpired      uint64     `json:"lease_expired"`
	Deleted           uint64     `json:"deleted"`
	Rescheduled       uint64     `json:"rescheduled"`
	ReconcileFailures uint64     `json:"reconcile_failures"`
	LastCycleAt       *time.Time `json:"last_cycle_at,omitempty"`
	LastCycleDuration string     `json:"last_cycle_duration,omitempty"`
}
