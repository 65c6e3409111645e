// Package cascade completes ancestors bottom-up once all of their children
// are completed.
package cascade

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/metrics"
	"github.com/ThunderHDs/taskmaster-sub001/task"
	"github.com/ThunderHDs/taskmaster-sub001/tree"
)

// Snapshotter gives the engine the latest tree and accepts canonical
// records back from the gateway.
type Snapshotter interface {
	Tree() *tree.Tree
	Merge(t task.Task)
}

// Updater is the part of gateway.Gateway the engine writes through.
type Updater interface {
	UpdateTask(ctx context.Context, id string, patch task.Patch, hint *gateway.ConflictHint) (task.Task, error)
}

type Outcome string

const (
	OutcomeNoParent        Outcome = "no_parent"
	OutcomeParentCompleted Outcome = "parent_completed"
	OutcomeSiblingsPending Outcome = "siblings_pending"
	OutcomeInFlight        Outcome = "in_flight"
	OutcomeCompleted       Outcome = "completed"
	OutcomeFailed          Outcome = "failed"
	OutcomeCanceled        Outcome = "canceled"
)

// Step records what happened at one level. TaskID is the ancestor that
// was evaluated, or the trigger itself for OutcomeNoParent.
type Step struct {
	TaskID  string
	Outcome Outcome
	Err     error
}

type Report struct {
	Trigger string
	Steps   []Step
}

// Completed lists the ancestors this run completed, lowest first.
func (r Report) Completed() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Outcome == OutcomeCompleted {
			out = append(out, s.TaskID)
		}
	}
	return out
}

// Err returns the failure that halted the run, if any.
func (r Report) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

type Engine struct {
	updater  Updater
	inflight *InFlight
}

func New(updater Updater, inflight *InFlight) *Engine {
	if inflight == nil {
		inflight = NewInFlight()
	}
	return &Engine{updater: updater, inflight: inflight}
}

func (e *Engine) InFlight() *InFlight {
	return e.inflight
}

// Run walks up from taskID one level at a time. Each write is awaited and
// merged before the next ancestor is evaluated. Remote failures halt the
// walk and are reported, never returned; lower levels stay completed.
func (e *Engine) Run(ctx context.Context, snap Snapshotter, taskID string) Report {
	report := Report{Trigger: taskID}
	step := func(id string, o Outcome, err error) Report {
		report.Steps = append(report.Steps, Step{TaskID: id, Outcome: o, Err: err})
		return report
	}

	x := taskID
	for {
		if err := ctx.Err(); err != nil {
			return step(x, OutcomeCanceled, err)
		}

		t := snap.Tree()
		parent, ok := t.Parent(x)
		if !ok {
			return step(x, OutcomeNoParent, nil)
		}
		pid := parent.Task.ID
		if parent.Task.Completed {
			return step(pid, OutcomeParentCompleted, nil)
		}
		if !t.AllChildrenCompleted(pid) {
			return step(pid, OutcomeSiblingsPending, nil)
		}
		if !e.inflight.TryAcquire(pid) {
			metrics.RecordCascadeSkipped(ctx)
			slog.Debug("cascade skipped, ancestor in flight", "taskId", pid)
			return step(pid, OutcomeInFlight, nil)
		}

		// Another walk may have finished this ancestor between the check
		// and the acquire.
		if latest := snap.Tree(); !latest.Eligible(pid) {
			e.inflight.Release(pid)
			if p, ok := latest.Find(pid); ok && p.Task.Completed {
				return step(pid, OutcomeParentCompleted, nil)
			}
			return step(pid, OutcomeSiblingsPending, nil)
		}

		done := true
		updated, err := e.updater.UpdateTask(ctx, pid, task.Patch{Completed: &done}, nil)
		if err != nil {
			e.inflight.Release(pid)
			metrics.RecordCascadeFailure(ctx)
			slog.Warn("cascade completion failed", "taskId", pid, "trigger", taskID, "error", err)
			return step(pid, OutcomeFailed, err)
		}
		snap.Merge(updated)
		e.inflight.Release(pid)

		metrics.RecordCascadeCompletion(ctx)
		slog.Info("cascade completed ancestor", "taskId", pid, "trigger", taskID)
		step(pid, OutcomeCompleted, nil)
		x = pid
	}
}
