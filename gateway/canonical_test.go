package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/ThunderHDs/taskmaster-sub001/task"
)

var now = time.Date(2024, 1, 5, 15, 30, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestCanonicalize_EarlyCompletion(t *testing.T) {
	prev := task.Task{ID: "a", Title: "A", Interval: task.Interval{Start: task.Date(2024, 1, 1), End: task.Date(2024, 1, 20)}}

	got := Canonicalize(prev, task.Patch{Completed: ptr(true)}, now)

	if !got.Completed {
		t.Fatal("not completed")
	}
	if !got.Interval.End.Equal(*task.Date(2024, 1, 5)) {
		t.Errorf("end = %v, want completion day", got.Interval.End)
	}
	if got.OriginalDueDate == nil || !got.OriginalDueDate.Equal(*task.Date(2024, 1, 20)) {
		t.Errorf("original due = %v, want 2024-01-20", got.OriginalDueDate)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}
}

func TestCanonicalize_LateCompletionKeepsDates(t *testing.T) {
	prev := task.Task{ID: "a", Title: "A", Interval: task.Interval{End: task.Date(2024, 1, 2)}}

	got := Canonicalize(prev, task.Patch{Completed: ptr(true)}, now)

	if !got.Interval.End.Equal(*task.Date(2024, 1, 2)) || got.OriginalDueDate != nil {
		t.Errorf("dates changed: end=%v original=%v", got.Interval.End, got.OriginalDueDate)
	}
}

func TestCanonicalize_FutureStartKeepsDates(t *testing.T) {
	prev := task.Task{ID: "a", Title: "A", Interval: task.Interval{Start: task.Date(2024, 2, 1), End: task.Date(2024, 2, 9)}}

	got := Canonicalize(prev, task.Patch{Completed: ptr(true)}, now)

	if got.OriginalDueDate != nil {
		t.Errorf("end moved before start: %+v", got.Interval)
	}
}

func TestCanonicalize_ReopenRestoresDueDate(t *testing.T) {
	prev := task.Task{
		ID: "a", Title: "A", Completed: true,
		Interval:        task.Interval{End: task.Date(2024, 1, 5)},
		OriginalDueDate: task.Date(2024, 1, 20),
	}

	got := Canonicalize(prev, task.Patch{Completed: ptr(false)}, now)

	if !got.Interval.End.Equal(*task.Date(2024, 1, 20)) {
		t.Errorf("end = %v, want 2024-01-20", got.Interval.End)
	}
	if got.OriginalDueDate != nil {
		t.Errorf("original due = %v, want nil", got.OriginalDueDate)
	}
}

func TestCanonicalize_ExplicitDatesVerbatim(t *testing.T) {
	prev := task.Task{ID: "a", Title: "A", Completed: true, Interval: task.Interval{End: task.Date(2024, 1, 5)}, OriginalDueDate: task.Date(2024, 1, 20)}
	restore := task.SnapshotOf(task.Task{Title: "A", Interval: task.Interval{End: task.Date(2024, 1, 20)}}).Patch()

	got := Canonicalize(prev, restore, now)

	if got.Completed || got.OriginalDueDate != nil || !got.Interval.End.Equal(*task.Date(2024, 1, 20)) {
		t.Errorf("got %+v", got)
	}
}

func TestPrepareCreate(t *testing.T) {
	got, err := PrepareCreate(task.Task{Title: "  New  ", ParentID: " p "}, now)
	if err != nil {
		t.Fatalf("PrepareCreate: %v", err)
	}
	if got.ID == "" || got.Title != "New" || got.ParentID != "p" {
		t.Errorf("got %+v", got)
	}

	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	kept, _ := PrepareCreate(task.Task{ID: "fixed", Title: "x", CreatedAt: created}, now)
	if kept.ID != "fixed" || !kept.CreatedAt.Equal(created) {
		t.Errorf("explicit fields not kept: %+v", kept)
	}

	if _, err := PrepareCreate(task.Task{}, now); !errors.Is(err, task.ErrInvalidTask) {
		t.Errorf("err = %v, want ErrInvalidTask", err)
	}
}

func TestCheckIntervals(t *testing.T) {
	parent := task.Task{Title: "P", Interval: task.Interval{Start: task.Date(2024, 1, 5), End: task.Date(2024, 1, 10)}}
	child := task.Task{Title: "C", Interval: task.Interval{Start: task.Date(2024, 1, 1), End: task.Date(2024, 1, 8)}}

	if err := CheckIntervals(child, &parent, nil, nil); !errors.Is(err, ErrDateConflict) {
		t.Errorf("err = %v, want ErrDateConflict", err)
	}
	if err := CheckIntervals(child, &parent, nil, &ConflictHint{ChildID: "c"}); err != nil {
		t.Errorf("hint ignored: %v", err)
	}
	if err := CheckIntervals(parent, nil, []task.Task{child}, nil); !errors.Is(err, ErrDateConflict) {
		t.Errorf("children not checked: %v", err)
	}
}
