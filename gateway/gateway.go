// Package gateway defines the persistence contract the engine consumes and
// the behaviour every backend shares.
package gateway

import (
	"context"
	"errors"

	"github.com/ThunderHDs/taskmaster-sub001/task"
)

var (
	ErrNotFound     = errors.New("task not found")
	ErrDateConflict = errors.New("date conflict")
)

// Gateway is the authoritative store for tasks.
type Gateway interface {
	GetTask(ctx context.Context, id string) (task.Task, bool, error)

	// CreateTask stores t. A non-empty t.ID is kept, which lets deleted
	// tasks be re-created under their original ids.
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)

	// UpdateTask returns the full canonical record after the update,
	// including any date normalization the backend applied.
	UpdateTask(ctx context.Context, id string, patch task.Patch, hint *ConflictHint) (task.Task, error)

	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context) ([]task.Task, error)
}

// ConflictHint tells the backend that a date conflict with ChildID was
// already resolved by the caller, so the adjustment must not be rejected.
type ConflictHint struct {
	ChildID string `json:"child_id"`
}

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

type ChangeEvent struct {
	Op   Operation
	Task task.Task
	// External is set when the change was made by another process.
	External bool
}

type ChangeListener interface {
	OnTaskChange(event ChangeEvent)
}

// Watcher is implemented by backends that can observe writes made by
// other processes.
type Watcher interface {
	AddChangeListener(l ChangeListener)
	StartWatching() error
	StopWatching()
}

// Options are shared by all backends.
type Options struct {
	// StrictIntervals rejects intervals that break parent/child containment
	// unless the write carries a ConflictHint.
	StrictIntervals bool
}
