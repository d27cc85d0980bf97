package model

import (
	"time"
)

// MinLeadTime is the minimum distance between task creation and its
// scheduled execution time.
const MinLeadTime = 5 * time.Minute

// Task is a persisted unit of deferred work.
type Task struct {
	ID           int64      `json:"id"`
	TaskType     TaskType   `json:"task_type"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Repeat       bool       `json:"repeat"`
	LastRun      *time.Time `json:"last_run"`
	CreatedAt    time.Time  `json:"created_at"`

	// Lease fields are owned by the scheduler and never exposed over the API.
	LeaseOwner     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`
}

// Claimed reports whether the task holds a lease that is still live at the given time.
func (t *Task) Claimed(at time.Time) bool {
	return t.LeaseOwner != "" && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.After(at)
}

// CreateTaskRequest is the body accepted by POST /task.
type CreateTaskRequest struct {
	TaskType      TaskType  `json:"task_type"`
	ExecutionTime time.Time `json:"execution_time"`
	Repeat        bool      `json:"repeat"`
}

// Validate checks the request against the creation rules as of now.
// Returns nil when the request is acceptable.
func (r CreateTaskRequest) Validate(now time.Time) *APIError {
	var details []FieldError
	if r.TaskType == "" {
		details = append(details, FieldError{Field: "task_type", Message: "task_type is required"})
	} else if _, err := ParseTaskType(string(r.TaskType)); err != nil {
		details = append(details, FieldError{Field: "task_type", Message: err.Error()})
	}
	if r.ExecutionTime.IsZero() {
		details = append(details, FieldError{Field: "execution_time", Message: "execution_time is required"})
	} else if earliest := now.Add(MinLeadTime); r.ExecutionTime.Before(earliest) {
		details = append(details, FieldError{
			Field:   "execution_time",
			Message: "task must be scheduled at least " + MinLeadTime.String() + " from now",
		})
	}
	if len(details) > 0 {
		return NewValidationError("invalid task", details...)
	}
	return nil
}

// NewTask builds an unsaved Task from a validated request.
func (r CreateTaskRequest) NewTask(now time.Time) *Task {
	return &Task{
		TaskType:     r.TaskType,
		ScheduledFor: r.ExecutionTime.UTC(),
		Repeat:       r.Repeat,
		CreatedAt:    now.UTC(),
	}
}
