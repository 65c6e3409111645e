package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

func openTestStore(t *testing.T, opts gateway.Options) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t, gateway.Options{})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestCreateGetList(t *testing.T) {
	s := openTestStore(t, gateway.Options{})
	ctx := context.Background()

	p, err := s.CreateTask(ctx, task.Task{
		Title:    "Parent",
		Interval: task.Interval{Start: task.Date(2024, 1, 1), End: task.Date(2024, 1, 31)},
		Tags:     []string{"home"},
		Group:    "personal",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	c, err := s.CreateTask(ctx, task.Task{ParentID: p.ID, Title: "Child"})
	if err != nil {
		t.Fatalf("CreateTask child: %v", err)
	}

	got, found, err := s.GetTask(ctx, " "+p.ID+" ")
	if err != nil || !found {
		t.Fatalf("GetTask = %v, %v", found, err)
	}
	if got.Title != "Parent" || got.Group != "personal" || len(got.Tags) != 1 || got.Tags[0] != "home" {
		t.Errorf("got %+v", got)
	}
	if !got.Interval.Equal(p.Interval) {
		t.Errorf("interval = %+v, want %+v", got.Interval, p.Interval)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != p.ID || tasks[1].ID != c.ID || tasks[1].ParentID != p.ID {
		t.Errorf("tasks = %+v", tasks)
	}

	if _, found, _ := s.GetTask(ctx, "missing"); found {
		t.Error("found missing task")
	}
}

func TestCreate_DuplicateAndUnknownParent(t *testing.T) {
	s := openTestStore(t, gateway.Options{})
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, task.Task{ID: "x", Title: "X"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := s.CreateTask(ctx, task.Task{ID: "x", Title: "X"}); !errors.Is(err, task.ErrInvalidTask) {
		t.Errorf("duplicate: err = %v", err)
	}
	if _, err := s.CreateTask(ctx, task.Task{ParentID: "nope", Title: "Y"}); !errors.Is(err, task.ErrInvalidTask) {
		t.Errorf("unknown parent: err = %v", err)
	}
}

func TestUpdate_CompleteAndReopen(t *testing.T) {
	s := openTestStore(t, gateway.Options{})
	ctx := context.Background()
	tk, _ := s.CreateTask(ctx, task.Task{Title: "T", Interval: task.Interval{Start: task.Date(2024, 1, 1), End: task.Date(2024, 1, 20)}})

	done, err := s.UpdateTask(ctx, tk.ID, task.Patch{Completed: ptr(true)}, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Completed || done.OriginalDueDate == nil || !done.Interval.End.Equal(*task.Date(2024, 1, 5)) {
		t.Errorf("completed = %+v", done)
	}

	reopened, err := s.UpdateTask(ctx, tk.ID, task.Patch{Completed: ptr(false)}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Completed || reopened.OriginalDueDate != nil || !reopened.Interval.End.Equal(*task.Date(2024, 1, 20)) {
		t.Errorf("reopened = %+v", reopened)
	}

	stored, _, _ := s.GetTask(ctx, tk.ID)
	if !stored.Interval.Equal(reopened.Interval) || stored.Completed {
		t.Errorf("stored = %+v", stored)
	}
}

func TestUpdate_StrictIntervals(t *testing.T) {
	s := openTestStore(t, gateway.Options{StrictIntervals: true})
	ctx := context.Background()
	p, _ := s.CreateTask(ctx, task.Task{Title: "P", Interval: task.Interval{Start: task.Date(2024, 1, 5), End: task.Date(2024, 1, 10)}})
	c, _ := s.CreateTask(ctx, task.Task{ParentID: p.ID, Title: "C"})
	outside := task.Interval{Start: task.Date(2024, 1, 1), End: task.Date(2024, 1, 8)}

	if _, err := s.UpdateTask(ctx, c.ID, task.Patch{Interval: &outside}, nil); !errors.Is(err, gateway.ErrDateConflict) {
		t.Fatalf("err = %v, want ErrDateConflict", err)
	}
	if _, err := s.UpdateTask(ctx, c.ID, task.Patch{Interval: &outside}, &gateway.ConflictHint{ChildID: c.ID}); err != nil {
		t.Fatalf("hinted update: %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t, gateway.Options{})
	ctx := context.Background()
	p, _ := s.CreateTask(ctx, task.Task{Title: "P"})
	c, _ := s.CreateTask(ctx, task.Task{ParentID: p.ID, Title: "C"})

	if err := s.DeleteTask(ctx, p.ID); !errors.Is(err, task.ErrInvalidTask) {
		t.Errorf("delete parent: err = %v", err)
	}
	if err := s.DeleteTask(ctx, c.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}
	if err := s.DeleteTask(ctx, c.ID); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}
