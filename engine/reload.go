package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ThunderHDs/taskmaster-sub001/cascade"
	"github.com/ThunderHDs/taskmaster-sub001/task"
	"github.com/ThunderHDs/taskmaster-sub001/tree"
)

// Load reads the full task list and, with WithExternalWatch, starts
// following changes made by other processes.
func (s *Session) Load(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	return s.startWatching()
}

// Reload replaces the snapshot with the gateway's task list, notifies
// listeners of the differences and reconciles parents left incomplete by
// an interrupted cascade.
func (s *Session) Reload(ctx context.Context) error {
	tasks, err := s.gw.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	next := tree.Build(tasks)

	s.mu.Lock()
	prev := s.tree
	s.tree = next
	s.mu.Unlock()

	s.notify(diffTrees(prev, next)...)
	slog.Debug("tree reloaded", "tasks", next.Len())

	s.Reconcile(ctx)
	return nil
}

// Reconcile completes every parent whose children are all completed,
// deepest first, by running the cascade from one of its children.
func (s *Session) Reconcile(ctx context.Context) []cascade.Report {
	type candidate struct {
		id    string
		depth int
	}
	var cands []candidate
	t := s.Tree()
	t.Walk(func(n tree.Node, depth int) bool {
		if t.Eligible(n.Task.ID) {
			cands = append(cands, candidate{id: n.Task.ID, depth: depth})
		}
		return true
	})
	slices.SortStableFunc(cands, func(a, b candidate) int { return b.depth - a.depth })

	var reports []cascade.Report
	for _, c := range cands {
		latest := s.Tree()
		if !latest.Eligible(c.id) {
			continue
		}
		kids := latest.Children(c.id)
		r := s.cascade.Run(ctx, s, kids[0].Task.ID)
		s.finishCascade(r)
		reports = append(reports, r)
	}
	if len(reports) > 0 {
		slog.Info("reconciled incomplete parents", "count", len(reports))
	}
	return reports
}

func diffTrees(prev, next *tree.Tree) []StateUpdate {
	var ups []StateUpdate
	for _, t := range next.Tasks() {
		old, ok := prev.Find(t.ID)
		if !ok || !sameTask(old.Task, t) {
			ups = append(ups, updated(t))
		}
	}
	for _, t := range prev.Tasks() {
		if !next.Has(t.ID) {
			ups = append(ups, StateUpdate{TaskID: t.ID, Removed: true})
		}
	}
	return ups
}

func sameTask(a, b task.Task) bool {
	return a.ID == b.ID &&
		a.ParentID == b.ParentID &&
		a.Title == b.Title &&
		a.Completed == b.Completed &&
		a.Interval.Equal(b.Interval) &&
		task.Interval{End: a.OriginalDueDate}.Equal(task.Interval{End: b.OriginalDueDate}) &&
		slices.Equal(a.Tags, b.Tags) &&
		a.Group == b.Group &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
