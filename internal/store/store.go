package store

import (
	"context"
	"errors"
	"time"

	"github.com/me/taskd/pkg/model"
)

var (
	// ErrNotFound is returned when a task id does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrLeaseLost is returned when a task is no longer claimed by the caller.
	ErrLeaseLost = errors.New("task lease lost")
)

// Store defines the persistence layer for tasks.
type Store interface {
	// Task CRUD
	ListTasks(ctx context.Context) ([]*model.Task, error)
	ListTasksBefore(ctx context.Context, deadline time.Time) ([]*model.Task, error)
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	CreateTask(ctx context.Context, task *model.Task) (int64, error)
	DeleteTask(ctx context.Context, id int64) (int64, error)
	DeleteTasks(ctx context.Context, ids []int64) (int64, error)

	// Claims held by a scheduler instance. A claim lasts until its lease
	// expires or the owner deletes, reschedules or releases the task.
	ClaimDue(ctx context.Context, owner string, deadline, now time.Time, ttl time.Duration) ([]*model.Task, error)
	DeleteClaimed(ctx context.Context, owner string, ids []int64) (int64, error)
	Reschedule(ctx context.Context, owner string, id int64, next, lastRun time.Time) error
	ReleaseTasks(ctx context.Context, owner string, ids []int64) (int64, error)
	ReleaseClaims(ctx context.Context, owner string) (int64, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
