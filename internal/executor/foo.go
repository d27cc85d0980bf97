package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/taskd/pkg/model"
)

// FooExecutor models a slow no-op: it waits, then reports completion.
type FooExecutor struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewFooExecutor creates a FooExecutor that waits delay before completing.
func NewFooExecutor(delay time.Duration, logger *slog.Logger) *FooExecutor {
	return &FooExecutor{
		delay:  delay,
		logger: logger.With("executor", model.TaskTypeFoo),
	}
}

func (e *FooExecutor) Type() model.TaskType { return model.TaskTypeFoo }

func (e *FooExecutor) Execute(ctx context.Context, task *model.Task) Result {
	timer := time.NewTimer(e.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Result{Err: fmt.Errorf("foo interrupted: %w", ctx.Err())}
	case <-timer.C:
	}

	e.logger.Info("foo task complete", "task_id", task.ID)
	return Result{Output: fmt.Sprintf("Foo %d", task.ID)}
}
