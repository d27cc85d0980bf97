package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/me/taskd/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func insertTask(t *testing.T, st *SQLiteStore, tt model.TaskType, at time.Time, repeat bool) int64 {
	t.Helper()
	id, err := st.CreateTask(context.Background(), &model.Task{
		TaskType:     tt,
		ScheduledFor: at,
		Repeat:       repeat,
		CreatedAt:    baseTime,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return id
}

func ids(tasks []*model.Task) []int64 {
	out := make([]int64, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	task := &model.Task{
		TaskType:     model.TaskTypeBaz,
		ScheduledFor: baseTime.Add(10 * time.Minute),
		Repeat:       true,
		CreatedAt:    baseTime,
	}
	id, err := st.CreateTask(ctx, task)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if id <= 0 || task.ID != id {
		t.Fatalf("id = %d, task.ID = %d", id, task.ID)
	}

	got, err := st.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.TaskType != model.TaskTypeBaz {
		t.Errorf("TaskType = %q, want Baz", got.TaskType)
	}
	if !got.ScheduledFor.Equal(task.ScheduledFor) {
		t.Errorf("ScheduledFor = %v, want %v", got.ScheduledFor, task.ScheduledFor)
	}
	if !got.Repeat {
		t.Error("Repeat = false, want true")
	}
	if got.LastRun != nil {
		t.Errorf("LastRun = %v, want nil", got.LastRun)
	}
	if got.LeaseOwner != "" || got.LeaseExpiresAt != nil {
		t.Errorf("new task should be unclaimed, got owner=%q", got.LeaseOwner)
	}
}

func TestCreateTask_UniqueIDs(t *testing.T) {
	st := testStore(t)
	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		id := insertTask(t, st, model.TaskTypeFoo, baseTime, false)
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestGetTask_NotFound(t *testing.T) {
	st := testStore(t)
	_, err := st.GetTask(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListTasksBefore(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	late := insertTask(t, st, model.TaskTypeFoo, baseTime.Add(2*time.Hour), false)
	early := insertTask(t, st, model.TaskTypeBar, baseTime.Add(-time.Hour), false)
	edge := insertTask(t, st, model.TaskTypeBaz, baseTime, false)
	// Sub-second precision must still compare correctly.
	justBefore := insertTask(t, st, model.TaskTypeBaz, baseTime.Add(-500*time.Millisecond), false)

	got, err := st.ListTasksBefore(ctx, baseTime)
	if err != nil {
		t.Fatalf("ListTasksBefore: %v", err)
	}
	want := []int64{early, justBefore}
	if g := ids(got); len(g) != len(want) || g[0] != want[0] || g[1] != want[1] {
		t.Errorf("ListTasksBefore ids = %v, want %v (edge=%d late=%d excluded)", g, want, edge, late)
	}

	got, err = st.ListTasksBefore(ctx, baseTime.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ListTasksBefore: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("len = %d, want 4", len(got))
	}
}

func TestListTasks_SkipsInvalidType(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	good := insertTask(t, st, model.TaskTypeFoo, baseTime, false)
	if _, err := st.db.ExecContext(ctx,
		`INSERT INTO tasks (task_type, scheduled_for, repeat, created_at) VALUES (?, ?, 0, ?)`,
		"Mystery", formatTime(baseTime), formatTime(baseTime)); err != nil {
		t.Fatalf("insert raw row: %v", err)
	}

	tasks, err := st.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != good {
		t.Errorf("ListTasks ids = %v, want [%d]", ids(tasks), good)
	}

	before, err := st.ListTasksBefore(ctx, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListTasksBefore: %v", err)
	}
	if len(before) != 1 {
		t.Errorf("ListTasksBefore len = %d, want 1", len(before))
	}
}

func TestDeleteTask(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	id := insertTask(t, st, model.TaskTypeFoo, baseTime, false)

	n, err := st.DeleteTask(ctx, id)
	if err != nil || n != 1 {
		t.Fatalf("DeleteTask = (%d, %v), want (1, nil)", n, err)
	}
	n, err = st.DeleteTask(ctx, id)
	if err != nil || n != 0 {
		t.Fatalf("second DeleteTask = (%d, %v), want (0, nil)", n, err)
	}
}

func TestDeleteTasks(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	n, err := st.DeleteTasks(ctx, nil)
	if err != nil || n != 0 {
		t.Fatalf("DeleteTasks(nil) = (%d, %v), want (0, nil)", n, err)
	}
	n, err = st.DeleteTasks(ctx, []int64{})
	if err != nil || n != 0 {
		t.Fatalf("DeleteTasks([]) = (%d, %v), want (0, nil)", n, err)
	}

	a := insertTask(t, st, model.TaskTypeFoo, baseTime, false)
	b := insertTask(t, st, model.TaskTypeBar, baseTime, false)
	c := insertTask(t, st, model.TaskTypeBaz, baseTime, false)

	n, err = st.DeleteTasks(ctx, []int64{a, c, 12345})
	if err != nil {
		t.Fatalf("DeleteTasks: %v", err)
	}
	if n != 2 {
		t.Errorf("affected = %d, want 2", n)
	}

	rest, err := st.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != b {
		t.Errorf("remaining = %v, want [%d]", ids(rest), b)
	}
}

func TestClaimDue(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	due2 := insertTask(t, st, model.TaskTypeFoo, baseTime.Add(-time.Minute), false)
	due1 := insertTask(t, st, model.TaskTypeBar, baseTime.Add(-time.Hour), false)
	insertTask(t, st, model.TaskTypeBaz, baseTime.Add(time.Hour), false)

	claimed, err := st.ClaimDue(ctx, "loop-a", baseTime.Add(time.Second), baseTime, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if g := ids(claimed); len(g) != 2 || g[0] != due1 || g[1] != due2 {
		t.Fatalf("claimed = %v, want [%d %d]", g, due1, due2)
	}
	for _, task := range claimed {
		if task.LeaseOwner != "loop-a" || task.LeaseExpiresAt == nil {
			t.Errorf("task %d lease = %q/%v", task.ID, task.LeaseOwner, task.LeaseExpiresAt)
		}
	}

	// A second owner sees nothing while the lease is live.
	other, err := st.ClaimDue(ctx, "loop-b", baseTime.Add(time.Second), baseTime.Add(30*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue b: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("loop-b claimed %v, want none", ids(other))
	}

	// Once the lease expires the task can be taken over.
	takeover, err := st.ClaimDue(ctx, "loop-b", baseTime.Add(time.Second), baseTime.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue takeover: %v", err)
	}
	if len(takeover) != 2 {
		t.Errorf("takeover len = %d, want 2", len(takeover))
	}

	got, err := st.GetTask(ctx, due1)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.LeaseOwner != "loop-b" {
		t.Errorf("LeaseOwner = %q, want loop-b", got.LeaseOwner)
	}
}

func TestDeleteClaimed_OnlyOwner(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	a := insertTask(t, st, model.TaskTypeFoo, baseTime.Add(-time.Minute), false)
	b := insertTask(t, st, model.TaskTypeBar, baseTime.Add(time.Hour), false)

	if _, err := st.ClaimDue(ctx, "loop-a", baseTime, baseTime, time.Minute); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}

	n, err := st.DeleteClaimed(ctx, "loop-b", []int64{a})
	if err != nil || n != 0 {
		t.Fatalf("DeleteClaimed by non-owner = (%d, %v), want (0, nil)", n, err)
	}
	n, err = st.DeleteClaimed(ctx, "loop-a", []int64{a, b})
	if err != nil || n != 1 {
		t.Fatalf("DeleteClaimed by owner = (%d, %v), want (1, nil)", n, err)
	}
	n, err = st.DeleteClaimed(ctx, "loop-a", nil)
	if err != nil || n != 0 {
		t.Fatalf("DeleteClaimed(nil) = (%d, %v), want (0, nil)", n, err)
	}

	rest, _ := st.ListTasks(ctx)
	if len(rest) != 1 || rest[0].ID != b {
		t.Errorf("remaining = %v, want [%d]", ids(rest), b)
	}
}

func TestReschedule(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	id := insertTask(t, st, model.TaskTypeBaz, baseTime.Add(-time.Minute), true)
	if _, err := st.ClaimDue(ctx, "loop-a", baseTime, baseTime, time.Minute); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}

	next := baseTime.Add(24 * time.Hour)
	if err := st.Reschedule(ctx, "loop-b", id, next, baseTime); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("Reschedule by non-owner err = %v, want ErrLeaseLost", err)
	}
	if err := st.Reschedule(ctx, "loop-a", id, next, baseTime); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	got, err := st.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.ScheduledFor.Equal(next) {
		t.Errorf("ScheduledFor = %v, want %v", got.ScheduledFor, next)
	}
	if got.LastRun == nil || !got.LastRun.Equal(baseTime) {
		t.Errorf("LastRun = %v, want %v", got.LastRun, baseTime)
	}
	if got.LeaseOwner != "" || got.LeaseExpiresAt != nil {
		t.Errorf("lease should be cleared, got %q", got.LeaseOwner)
	}
}

func TestReleaseClaims(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	insertTask(t, st, model.TaskTypeFoo, baseTime.Add(-time.Minute), false)
	insertTask(t, st, model.TaskTypeBar, baseTime.Add(-time.Minute), false)
	if _, err := st.ClaimDue(ctx, "loop-a", baseTime, baseTime, time.Hour); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}

	n, err := st.ReleaseClaims(ctx, "loop-a")
	if err != nil || n != 2 {
		t.Fatalf("ReleaseClaims = (%d, %v), want (2, nil)", n, err)
	}

	claimed, err := st.ClaimDue(ctx, "loop-b", baseTime, baseTime, time.Hour)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	got := ids(claimed)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != 2 {
		t.Errorf("claimed after release = %v, want 2 tasks", got)
	}
}

func TestFormatTime_SortsLexically(t *testing.T) {
	a := formatTime(baseTime)
	b := formatTime(baseTime.Add(500 * time.Millisecond))
	c := formatTime(baseTime.Add(time.Second))
	if !(a < b && b < c) {
		t.Errorf("lexical order broken: %q %q %q", a, b, c)
	}
	parsed, err := parseTime(b)
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !parsed.Equal(baseTime.Add(500 * time.Millisecond)) {
		t.Errorf("parseTime = %v", parsed)
	}
}

func TestReleaseTasks(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	a := insertTask(t, st, model.TaskTypeFoo, baseTime.Add(-time.Minute), false)
	b := insertTask(t, st, model.TaskTypeBar, baseTime.Add(-time.Minute), false)
	if _, err := st.ClaimDue(ctx, "loop-a", baseTime, baseTime, time.Hour); err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}

	if n, err := st.ReleaseTasks(ctx, "loop-b", []int64{a}); err != nil || n != 0 {
		t.Fatalf("ReleaseTasks by other owner = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := st.ReleaseTasks(ctx, "loop-a", []int64{a}); err != nil || n != 1 {
		t.Fatalf("ReleaseTasks = (%d, %v), want (1, nil)", n, err)
	}
	if n, err := st.ReleaseTasks(ctx, "loop-a", nil); err != nil || n != 0 {
		t.Fatalf("ReleaseTasks(nil) = (%d, %v), want (0, nil)", n, err)
	}

	released, err := st.GetTask(ctx, a)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if released.LeaseOwner != "" || released.LeaseExpiresAt != nil {
		t.Errorf("task %d lease = %q/%v, want cleared", a, released.LeaseOwner, released.LeaseExpiresAt)
	}
	if !released.ScheduledFor.Equal(baseTime.Add(-time.Minute)) {
		t.Errorf("ScheduledFor changed to %v", released.ScheduledFor)
	}
	held, _ := st.GetTask(ctx, b)
	if held.LeaseOwner != "loop-a" {
		t.Errorf("task %d LeaseOwner = %q, want loop-a", b, held.LeaseOwner)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct{ in, want string }{
		{":memory:", ":memory:?_txlock=immediate"},
		{"/var/lib/taskd/tasks.db", "/var/lib/taskd/tasks.db?_txlock=immediate"},
		{"file:tasks.db?mode=rwc", "file:tasks.db?mode=rwc&_txlock=immediate"},
	}
	for _, tt := range tests {
		if got := dsn(tt.in); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestClaimDue_SharedFile runs two stores on one database file, as two
// server processes would, and claims from both at once.
func TestClaimDue_SharedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))

	stores := make([]*SQLiteStore, 2)
	for i := range stores {
		st, err := NewSQLiteStore(path, logger)
		if err != nil {
			t.Fatalf("open store %d: %v", i, err)
		}
		t.Cleanup(func() { st.Close() })
		if err := st.Migrate(ctx); err != nil {
			t.Fatalf("migrate %d: %v", i, err)
		}
		stores[i] = st
	}

	const total = 40
	for i := 0; i < total; i++ {
		insertTask(t, stores[0], model.TaskTypeBaz, baseTime.Add(-time.Duration(i)*time.Second), false)
	}

	var (
		mu    sync.Mutex
		seen  = map[int64]string{}
		wg    sync.WaitGroup
		errCh = make(chan error, 2*total)
	)
	for i, st := range stores {
		owner := fmt.Sprintf("loop-%d", i)
		wg.Add(1)
		go func(st *SQLiteStore) {
			defer wg.Done()
			for round := 0; round < total; round++ {
				claimed, err := st.ClaimDue(ctx, owner, baseTime, baseTime, time.Hour)
				if err != nil {
					errCh <- err
					continue
				}
				mu.Lock()
				for _, task := range claimed {
					if prev, ok := seen[task.ID]; ok {
						errCh <- fmt.Errorf("task %d claimed by %s and %s", task.ID, prev, owner)
					}
					seen[task.ID] = owner
				}
				mu.Unlock()
			}
		}(st)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
	if len(seen) != total {
		t.Errorf("claimed %d distinct tasks, want %d", len(seen), total)
	}
}
