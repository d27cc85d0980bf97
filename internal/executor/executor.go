package executor

import (
	"context"
	"time"

	"github.com/me/taskd/pkg/model"
)

// Executor performs the action behind one TaskType.
//
// Execute must not panic; variant failures are reported in Result.Err and
// never abort the scheduler cycle.
type Executor interface {
	// Type returns the task type this executor handles.
	Type() model.TaskType

	// Execute runs the task. It should return promptly once ctx is done.
	Execute(ctx context.Context, task *model.Task) Result
}

// Result describes the outcome of one task execution.
type Result struct {
	TaskID   int64
	TaskType model.TaskType
	Output   string        // Human-readable result (status line, number, ...)
	Err      error         // Non-nil when the variant failed
	Duration time.Duration // Wall time spent in Execute
}

// OK reports whether the execution succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}
