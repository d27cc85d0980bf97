package executor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"

	"github.com/me/taskd/pkg/model"
)

// BazMax is the largest value a Baz task can produce.
const BazMax = 343

// BazExecutor produces a pseudo-random integer in [0, BazMax].
type BazExecutor struct {
	intN   func(n int) int
	logger *slog.Logger
}

// NewBazExecutor creates a BazExecutor. intN returns a value in [0, n);
// nil selects math/rand/v2.IntN.
func NewBazExecutor(intN func(n int) int, logger *slog.Logger) *BazExecutor {
	if intN == nil {
		intN = rand.IntN
	}
	return &BazExecutor{
		intN:   intN,
		logger: logger.With("executor", model.TaskTypeBaz),
	}
}

func (e *BazExecutor) Type() model.TaskType { return model.TaskTypeBaz }

func (e *BazExecutor) Execute(ctx context.Context, task *model.Task) Result {
	n := e.intN(BazMax + 1)
	e.logger.Info("baz task complete", "task_id", task.ID, "value", n)
	return Result{Output: strconv.Itoa(n)}
}
