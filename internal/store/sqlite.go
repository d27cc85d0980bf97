package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/taskd/pkg/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that string comparison in SQL matches time order.
// Values are always formatted in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const taskColumns = `id, task_type, scheduled_for, repeat, last_run, created_at, lease_owner, lease_expires_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// One connection: an in-memory database exists per connection, and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// dsn adds driver parameters to dbPath. _txlock=immediate makes BeginTx
// take the write lock up front, so ClaimDue never has to upgrade a read
// lock while another process holds the database.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_txlock=immediate"
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Task CRUD ---

// ListTasks returns every task whose type can be parsed, ordered by id.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*model.Task, error) {
	s.logger.Debug("sql", "op", "list", "table", "tasks")

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return s.scanTasks(rows)
}

// ListTasksBefore returns tasks with scheduled_for strictly before deadline,
// oldest first.
func (s *SQLiteStore) ListTasksBefore(ctx context.Context, deadline time.Time) ([]*model.Task, error) {
	s.logger.Debug("sql", "op", "list_before", "table", "tasks", "deadline", deadline)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE scheduled_for < ? ORDER BY scheduled_for, id`,
		formatTime(deadline))
	if err != nil {
		return nil, fmt.Errorf("list tasks before %s: %w", deadline.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return s.scanTasks(rows)
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	s.logger.Debug("sql", "op", "select", "table", "tasks", "id", id)

	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return task, nil
}

// CreateTask inserts task and sets task.ID. The store does not validate the
// schedule; callers enforce the lead-time rule.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) (int64, error) {
	s.logger.Debug("sql", "op", "insert", "table", "tasks", "task_type", task.TaskType)

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_type, scheduled_for, repeat, last_run, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		task.TaskType.String(), formatTime(task.ScheduledFor), task.Repeat,
		formatTimePtr(task.LastRun), formatTime(task.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	task.ID = id
	return id, nil
}

// DeleteTask removes one task and returns the number of rows affected.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id int64) (int64, error) {
	s.logger.Debug("sql", "op", "delete", "table", "tasks", "id", id)

	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete task %d: %w", id, err)
	}
	return result.RowsAffected()
}

// DeleteTasks removes all listed tasks in one statement. An empty list is a
// no-op that issues no query.
func (s *SQLiteStore) DeleteTasks(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.logger.Debug("sql", "op", "delete_many", "table", "tasks", "count", len(ids))

	placeholders, args := inClause(ids)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete tasks: %w", err)
	}
	return result.RowsAffected()
}

// --- Claims ---

// ClaimDue atomically selects tasks scheduled before deadline that are not
// held under a live lease and assigns them to owner until now+ttl. Returns
// the claimed tasks ordered by scheduled_for, then id.
func (s *SQLiteStore) ClaimDue(ctx context.Context, owner string, deadline, now time.Time, ttl time.Duration) ([]*model.Task, error) {
	s.logger.Debug("sql", "op", "claim_due", "owner", owner, "deadline", deadline)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	nowStr := formatTime(now)
	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE scheduled_for < ?
		   AND (lease_owner = '' OR lease_expires_at IS NULL OR lease_expires_at <= ?)
		 ORDER BY scheduled_for, id`,
		formatTime(deadline), nowStr)
	if err != nil {
		return nil, fmt.Errorf("select due tasks: %w", err)
	}
	candidates, err := s.scanTasks(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	expires := now.Add(ttl).UTC()
	expiresStr := formatTime(expires)
	claimed := make([]*model.Task, 0, len(candidates))
	for _, task := range candidates {
		result, err := tx.ExecContext(ctx,
			`UPDATE tasks SET lease_owner = ?, lease_expires_at = ?
			 WHERE id = ? AND (lease_owner = '' OR lease_expires_at IS NULL OR lease_expires_at <= ?)`,
			owner, expiresStr, task.ID, nowStr)
		if err != nil {
			return nil, fmt.Errorf("claim task %d: %w", task.ID, err)
		}
		if n, _ := result.RowsAffected(); n != 1 {
			continue
		}
		task.LeaseOwner = owner
		task.LeaseExpiresAt = &expires
		claimed = append(claimed, task)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return claimed, nil
}

// DeleteClaimed removes the listed tasks that are still claimed by owner.
func (s *SQLiteStore) DeleteClaimed(ctx context.Context, owner string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.logger.Debug("sql", "op", "delete_claimed", "owner", owner, "count", len(ids))

	placeholders, args := inClause(ids)
	args = append([]any{owner}, args...)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE lease_owner = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete claimed tasks: %w", err)
	}
	return result.RowsAffected()
}

// Reschedule moves a claimed task to next, records lastRun and drops the claim.
func (s *SQLiteStore) Reschedule(ctx context.Context, owner string, id int64, next, lastRun time.Time) error {
	s.logger.Debug("sql", "op", "reschedule", "id", id, "next", next)

	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET scheduled_for = ?, last_run = ?, lease_owner = '', lease_expires_at = NULL
		 WHERE id = ? AND lease_owner = ?`,
		formatTime(next), formatTime(lastRun), id, owner)
	if err != nil {
		return fmt.Errorf("reschedule task %d: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("reschedule task %d: %w", id, ErrLeaseLost)
	}
	return nil
}

// ReleaseTasks drops owner's claim on the listed tasks, leaving their
// schedule untouched.
func (s *SQLiteStore) ReleaseTasks(ctx context.Context, owner string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.logger.Debug("sql", "op", "release_tasks", "owner", owner, "count", len(ids))

	placeholders, args := inClause(ids)
	args = append([]any{owner}, args...)
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET lease_owner = '', lease_expires_at = NULL
		 WHERE lease_owner = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("release tasks: %w", err)
	}
	return result.RowsAffected()
}

// ReleaseClaims drops every claim held by owner.
func (s *SQLiteStore) ReleaseClaims(ctx context.Context, owner string) (int64, error) {
	s.logger.Debug("sql", "op", "release_claims", "owner", owner)

	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET lease_owner = '', lease_expires_at = NULL WHERE lease_owner = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("release claims: %w", err)
	}
	return result.RowsAffected()
}

// --- scanning helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var taskType, scheduledFor, createdAt string
	var lastRun, leaseExpires *string

	if err := row.Scan(&task.ID, &taskType, &scheduledFor, &task.Repeat, &lastRun,
		&createdAt, &task.LeaseOwner, &leaseExpires); err != nil {
		return nil, err
	}

	tt, err := model.ParseTaskType(taskType)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", task.ID, err)
	}
	task.TaskType = tt

	if task.ScheduledFor, err = parseTime(scheduledFor); err != nil {
		return nil, fmt.Errorf("task %d: parse scheduled_for: %w", task.ID, err)
	}
	task.CreatedAt, _ = parseTime(createdAt)
	task.LastRun = parseTimePtr(lastRun)
	task.LeaseExpiresAt = parseTimePtr(leaseExpires)

	return &task, nil
}

// scanTasks drains rows. Rows whose task_type cannot be parsed are skipped
// rather than failing the whole listing.
func (s *SQLiteStore) scanTasks(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if errors.Is(err, model.ErrInvalidTaskType) {
			s.logger.Warn("skipping task row", "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil
	}
	return &t
}
