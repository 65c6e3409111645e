package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ThunderHDs/taskmaster-sub001/conflict"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

// PrepareCreate validates t and fills in the id and timestamps.
// An explicit id and CreatedAt are kept.
func PrepareCreate(t task.Task, now time.Time) (task.Task, error) {
	if err := task.ValidateNew(t); err != nil {
		return task.Task{}, err
	}
	out := t.Clone()
	out.ID = strings.TrimSpace(out.ID)
	if out.ID == "" {
		out.ID = uuid.Must(uuid.NewV7()).String()
	}
	out.ParentID = strings.TrimSpace(out.ParentID)
	out.Title = strings.TrimSpace(out.Title)
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out, nil
}

// Canonicalize applies patch to prev the way every backend stores it.
//
// Completing a task ahead of its due date keeps the due date in
// OriginalDueDate and moves the interval end to the completion day.
// Reopening restores it. Patches that set date fields explicitly are
// stored verbatim.
func Canonicalize(prev task.Task, patch task.Patch, now time.Time) task.Task {
	next := patch.Apply(prev)
	next.UpdatedAt = now
	if patch.Completed == nil || patch.TouchesDates() {
		return next
	}

	switch {
	case *patch.Completed && !prev.Completed:
		today := task.StartOfDay(now.UTC())
		end := next.Interval.End
		if end == nil || !end.After(today) {
			break
		}
		if start := next.Interval.Start; start != nil && start.After(today) {
			break
		}
		due := *end
		next.OriginalDueDate = &due
		next.Interval.End = &today
	case !*patch.Completed && prev.Completed && prev.OriginalDueDate != nil:
		due := *prev.OriginalDueDate
		next.Interval.End = &due
		next.OriginalDueDate = nil
	}
	return next
}

// CheckIntervals enforces containment of updated against its parent and
// its children. A hint disables the check.
func CheckIntervals(updated task.Task, parent *task.Task, children []task.Task, hint *ConflictHint) error {
	if hint != nil {
		return nil
	}
	if parent != nil && !conflict.Contains(parent.Interval, updated.Interval) {
		return fmt.Errorf("%w: %q lies outside its parent %q", ErrDateConflict, updated.Title, parent.Title)
	}
	for _, c := range children {
		if !conflict.Contains(updated.Interval, c.Interval) {
			return fmt.Errorf("%w: child %q lies outside %q", ErrDateConflict, c.Title, updated.Title)
		}
	}
	return nil
}
