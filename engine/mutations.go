package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ThunderHDs/taskmaster-sub001/conflict"
	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/history"
	"github.com/ThunderHDs/taskmaster-sub001/metrics"
	"github.com/ThunderHDs/taskmaster-sub001/task"
	"github.com/ThunderHDs/taskmaster-sub001/tree"
)

// resolve finds id in the snapshot, falling back to a single gateway
// lookup. A task found remotely is merged into the snapshot.
func (s *Session) resolve(ctx context.Context, id string) (task.Task, error) {
	nid, err := task.NormalizeID(id)
	if err != nil {
		return task.Task{}, err
	}
	if t, ok := s.Get(nid); ok {
		return t, nil
	}

	t, ok, err := s.gw.GetTask(ctx, nid)
	if err != nil {
		return task.Task{}, fmt.Errorf("get task %s: %w", nid, err)
	}
	if !ok {
		slog.Warn("task not found", "taskId", nid)
		return task.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, nid)
	}
	s.Merge(t)
	return t, nil
}

// Lookup returns a task from the snapshot or, failing that, the gateway.
func (s *Session) Lookup(ctx context.Context, id string) (task.Task, error) {
	return s.resolve(ctx, id)
}

// updateRemote writes patch through the gateway and merges the canonical
// record it returns.
func (s *Session) updateRemote(ctx context.Context, id string, patch task.Patch, hint *gateway.ConflictHint) (task.Task, error) {
	updated, err := s.gw.UpdateTask(ctx, id, patch, hint)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			slog.Warn("task vanished before update", "taskId", id)
			return task.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return task.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	s.Merge(updated)
	return updated, nil
}

// --- Create ---

// CreateTask stores t, first expanding its ancestors when its interval
// does not fit. The id is assigned here when t has none so the expansion
// can name the child in its conflict hints.
func (s *Session) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	if err := task.ValidateNew(t); err != nil {
		return task.Task{}, err
	}
	t = t.Clone()
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		t.ID = uuid.Must(uuid.NewV7()).String()
	}
	t.ParentID = strings.TrimSpace(t.ParentID)
	t.Title = strings.TrimSpace(t.Title)

	var exp expansionResult
	if t.ParentID != "" {
		parent, err := s.resolve(ctx, t.ParentID)
		if err != nil {
			return task.Task{}, err
		}
		t.ParentID = parent.ID
		plan := planExpansion(s.Tree(), parent, conflict.Child{Title: t.Title, Interval: t.Interval}, t.ID)
		if exp, err = s.expand(ctx, plan); err != nil {
			return task.Task{}, err
		}
	}

	created, err := s.gw.CreateTask(ctx, t)
	if err != nil {
		s.rollback(ctx, exp)
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}
	s.Merge(created)

	s.history.Record(history.ActionCreate, fmt.Sprintf("Created %q", created.Title),
		exp.before, append(exp.after, created),
		history.Batch(append(exp.forward, history.Create(created))...),
		history.Batch(append([]history.Command{history.Delete(created.ID)}, exp.inverse...)...))
	metrics.RecordTaskOp(ctx, "create")
	slog.Info("task created", "taskId", created.ID, "parentId", created.ParentID, "expanded", len(exp.after))
	return created, nil
}

// --- Completion ---

// SetCompleted toggles a task. Completing it may complete its ancestors
// through the cascade. Setting the current value is a no-op.
func (s *Session) SetCompleted(ctx context.Context, id string, completed bool) (task.Task, error) {
	prev, err := s.resolve(ctx, id)
	if err != nil {
		return task.Task{}, err
	}
	if prev.Completed == completed {
		return prev, nil
	}

	updated, err := s.updateRemote(ctx, prev.ID, task.Patch{Completed: &completed}, nil)
	if err != nil {
		return task.Task{}, err
	}

	typ, verb := history.ActionComplete, "Completed"
	if !completed {
		typ, verb = history.ActionReopen, "Reopened"
	}
	// Both directions restore every field explicitly, so date
	// normalization by the backend is undone and redone exactly.
	s.history.Record(typ, fmt.Sprintf("%s %q", verb, prev.Title),
		[]task.Task{prev}, []task.Task{updated},
		history.Update(prev.ID, task.SnapshotOf(updated).Patch()),
		history.Update(prev.ID, task.SnapshotOf(prev).Patch()))
	metrics.RecordTaskOp(ctx, string(typ))

	s.afterUpdate(ctx, prev, updated)
	return updated, nil
}

func (s *Session) afterUpdate(ctx context.Context, prev, updated task.Task) {
	if !prev.Completed && updated.Completed {
		s.triggerCascade(ctx, updated.ID)
	}
}

// --- Intervals ---

// UpdateInterval sets a task's dates. A complete interval is widened to
// cover the task's children, and ancestors are expanded to contain it.
// The whole change is one undoable action.
func (s *Session) UpdateInterval(ctx context.Context, id string, iv task.Interval) (task.Task, error) {
	if err := iv.Validate(); err != nil {
		return task.Task{}, err
	}
	prev, err := s.resolve(ctx, id)
	if err != nil {
		return task.Task{}, err
	}

	iv = iv.Clone()
	if iv.Complete() {
		for _, c := range s.Tree().Children(prev.ID) {
			res := conflict.Resolve(conflict.Child{Title: c.Task.Title, Interval: c.Task.Interval}, iv)
			iv = res.Apply(iv)
		}
	}
	if prev.Interval.Equal(iv) {
		return prev, nil
	}

	var exp expansionResult
	if prev.ParentID != "" {
		parent, err := s.resolve(ctx, prev.ParentID)
		if err != nil {
			return task.Task{}, err
		}
		plan := planExpansion(s.Tree(), parent, conflict.Child{Title: prev.Title, Interval: iv}, prev.ID)
		if exp, err = s.expand(ctx, plan); err != nil {
			return task.Task{}, err
		}
	}

	updated, err := s.updateRemote(ctx, prev.ID, task.Patch{Interval: &iv}, nil)
	if err != nil {
		s.rollback(ctx, exp)
		return task.Task{}, err
	}

	old := prev.Interval.Clone()
	s.history.Record(history.ActionInterval, fmt.Sprintf("Rescheduled %q", prev.Title),
		append([]task.Task{prev}, exp.before...), append([]task.Task{updated}, exp.after...),
		history.Batch(append(exp.forward, history.Update(prev.ID, task.Patch{Interval: &iv}))...),
		history.Batch(append([]history.Command{history.Update(prev.ID, task.Patch{Interval: &old})}, exp.inverse...)...))
	metrics.RecordTaskOp(ctx, "interval")
	return updated, nil
}

// CheckConflict runs the resolver for child against the current interval
// of parentID without changing anything.
func (s *Session) CheckConflict(ctx context.Context, parentID string, child conflict.Child) (conflict.Result, error) {
	if err := child.Interval.Validate(); err != nil {
		return conflict.Result{}, err
	}
	parent, err := s.resolve(ctx, parentID)
	if err != nil {
		return conflict.Result{}, err
	}
	return conflict.Resolve(child, parent.Interval), nil
}

// expansion widens one ancestor so that childID fits.
type expansion struct {
	before   task.Task
	interval task.Interval
	childID  string
}

// planExpansion walks up from parent while the child, and then each
// expanded ancestor in turn, does not fit. The plan is ordered bottom-up.
func planExpansion(t *tree.Tree, parent task.Task, child conflict.Child, childID string) []expansion {
	var plan []expansion
	for {
		res := conflict.Resolve(child, parent.Interval)
		if !res.HasConflict {
			return plan
		}
		next := res.Apply(parent.Interval)
		plan = append(plan, expansion{before: parent, interval: next, childID: childID})

		if parent.ParentID == "" {
			return plan
		}
		n, ok := t.Find(parent.ParentID)
		if !ok {
			return plan
		}
		child = conflict.Child{Title: parent.Title, Interval: next}
		childID = parent.ID
		parent = n.Task
	}
}

type expansionResult struct {
	before, after []task.Task
	// forward runs top-down, inverse bottom-up.
	forward, inverse []history.Command
}

// expand writes the plan top-down, each write carrying the hint for the
// child it was widened for. A failed write rolls back the levels above it.
func (s *Session) expand(ctx context.Context, plan []expansion) (expansionResult, error) {
	var res expansionResult
	for i := len(plan) - 1; i >= 0; i-- {
		e := plan[i]
		iv := e.interval.Clone()
		updated, err := s.updateRemote(ctx, e.before.ID, task.Patch{Interval: &iv}, &gateway.ConflictHint{ChildID: e.childID})
		if err != nil {
			s.rollback(ctx, res)
			return expansionResult{}, fmt.Errorf("expand %s for %s: %w", e.before.ID, e.childID, err)
		}
		metrics.RecordConflictResolved(ctx)
		slog.Debug("ancestor expanded", "taskId", e.before.ID, "childId", e.childID)

		old := e.before.Interval.Clone()
		res.after = append(res.after, updated)
		res.forward = append(res.forward, history.ResolvedUpdate(e.before.ID, task.Patch{Interval: &iv}, e.childID))
		res.before = append([]task.Task{e.before}, res.before...)
		res.inverse = append([]history.Command{history.Update(e.before.ID, task.Patch{Interval: &old})}, res.inverse...)
	}
	return res, nil
}

// rollback restores the ancestors an expansion widened when the write it
// was made for fails. Nothing is recorded; a rollback failure is logged and
// the caller still returns the original error.
func (s *Session) rollback(ctx context.Context, exp expansionResult) {
	if len(exp.inverse) == 0 {
		return
	}
	if err := s.Apply(context.WithoutCancel(ctx), history.Batch(exp.inverse...)); err != nil {
		slog.Error("failed to roll back ancestor expansion", "tasks", len(exp.inverse), "error", err)
		return
	}
	slog.Info("rolled back ancestor expansion", "tasks", len(exp.inverse))
}

// --- Edits ---

// UpdateTask changes the title, tags or group of a task. Completion and
// dates have their own operations.
func (s *Session) UpdateTask(ctx context.Context, id string, patch task.Patch) (task.Task, error) {
	if patch.Completed != nil || patch.TouchesDates() {
		return task.Task{}, fmt.Errorf("%w: completion and dates cannot be edited here", task.ErrInvalidTask)
	}
	if err := patch.Validate(); err != nil {
		return task.Task{}, err
	}
	prev, err := s.resolve(ctx, id)
	if err != nil {
		return task.Task{}, err
	}
	if patch.IsEmpty() {
		return prev, nil
	}

	updated, err := s.updateRemote(ctx, prev.ID, patch, nil)
	if err != nil {
		return task.Task{}, err
	}

	var inverse task.Patch
	if patch.Title != nil {
		title := prev.Title
		inverse.Title = &title
	}
	if patch.Tags != nil {
		tags := slices.Clone(prev.Tags)
		if tags == nil {
			tags = []string{}
		}
		inverse.Tags = &tags
	}
	if patch.Group != nil {
		group := prev.Group
		inverse.Group = &group
	}
	s.history.Record(history.ActionEdit, fmt.Sprintf("Edited %q", prev.Title),
		[]task.Task{prev}, []task.Task{updated},
		history.Update(prev.ID, patch), history.Update(prev.ID, inverse))
	metrics.RecordTaskOp(ctx, "edit")
	return updated, nil
}

// --- Delete ---

// DeleteTask removes a task with its whole subtree, deepest tasks first.
// Undo re-creates every task under its original id.
func (s *Session) DeleteTask(ctx context.Context, id string) error {
	root, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}

	subtree := []task.Task{root}
	t := s.Tree()
	for _, d := range t.Descendants(root.ID) {
		if n, ok := t.Find(d); ok {
			subtree = append(subtree, n.Task)
		}
	}

	forward := make([]history.Command, 0, len(subtree))
	for i := len(subtree) - 1; i >= 0; i-- {
		tid := subtree[i].ID
		if err := s.gw.DeleteTask(ctx, tid); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return fmt.Errorf("delete task %s: %w", tid, err)
		}
		s.removeLocal(tid)
		forward = append(forward, history.Delete(tid))
	}

	inverse := make([]history.Command, len(subtree))
	for i, st := range subtree {
		inverse[i] = history.Create(st)
	}
	s.history.Record(history.ActionDelete, fmt.Sprintf("Deleted %q", root.Title),
		subtree, nil, history.Batch(forward...), history.Batch(inverse...))
	metrics.RecordTaskOp(ctx, "delete")
	slog.Info("task deleted", "taskId", root.ID, "subtree", len(subtree))
	return nil
}

// --- History ---

func (s *Session) Undo(ctx context.Context) (*history.Action, error) {
	return s.history.Undo(ctx)
}

func (s *Session) Redo(ctx context.Context) (*history.Action, error) {
	return s.history.Redo(ctx)
}

func (s *Session) UndoFromToast(ctx context.Context) (*history.Action, error) {
	return s.history.UndoFromToast(ctx)
}

func (s *Session) DismissToast() {
	s.history.DismissToast()
}

func (s *Session) HistoryState() history.State {
	return s.history.State()
}
