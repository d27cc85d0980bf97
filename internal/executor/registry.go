package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/taskd/pkg/model"
)

// Registry maps TaskType values to their Executor implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	executors map[model.TaskType]Executor
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry. A positive timeout bounds every
// Run call.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[model.TaskType]Executor),
		timeout:   timeout,
		logger:    logger.With("component", "executor-registry"),
	}
}

// Register adds an Executor to the registry, keyed by its Type().
// A later registration for the same type replaces the earlier one.
func (r *Registry) Register(exec Executor) {
	t := exec.Type()
	r.executors[t] = exec
	r.logger.Info("executor registered", "type", t)
}

// Get returns the Executor for the given type or an error if none is registered.
func (r *Registry) Get(t model.TaskType) (Executor, error) {
	exec, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for type %q", t)
	}
	return exec, nil
}

// Types returns the registered task types in declaration order.
func (r *Registry) Types() []model.TaskType {
	var types []model.TaskType
	for _, t := range model.TaskTypes {
		if _, ok := r.executors[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// Run executes task with the executor registered for its type. It never
// panics: a missing executor or a panicking executor becomes Result.Err.
func (r *Registry) Run(ctx context.Context, task *model.Task) (res Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("executor panic: %v", p)
		}
		res.TaskID = task.ID
		res.TaskType = task.TaskType
		res.Duration = time.Since(start)
	}()

	exec, err := r.Get(task.TaskType)
	if err != nil {
		return Result{Err: err}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return exec.Execute(ctx, task)
}

// RegisterDefaults registers the Foo, Bar and Baz executors.
func RegisterDefaults(r *Registry, cfg Config, logger *slog.Logger) {
	r.Register(NewFooExecutor(cfg.FooDelay, logger))
	r.Register(NewBarExecutor(cfg.Bar, logger))
	r.Register(NewBazExecutor(nil, logger))
}
