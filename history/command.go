package history

import (
	"context"

	"github.com/ThunderHDs/taskmaster-sub001/task"
)

type CommandType string

const (
	CommandUpdate CommandType = "task.update"
	CommandCreate CommandType = "task.create"
	CommandDelete CommandType = "task.delete"
	CommandBatch  CommandType = "batch"
)

// Command is a data-only description of a gateway mutation. Batches run
// their commands in order.
type Command struct {
	Type   CommandType `json:"type"`
	TaskID string      `json:"task_id,omitempty"`
	Patch  *task.Patch `json:"patch,omitempty"`
	// HintChildID is set on interval writes that expand a parent to fit
	// that child; it is sent to the gateway as a conflict hint.
	HintChildID string     `json:"hint_child_id,omitempty"`
	Task        *task.Task `json:"task,omitempty"`
	Commands    []Command  `json:"commands,omitempty"`
}

func Update(id string, patch task.Patch) Command {
	return Command{Type: CommandUpdate, TaskID: id, Patch: &patch}
}

// ResolvedUpdate is an Update written with a conflict hint for childID.
func ResolvedUpdate(id string, patch task.Patch, childID string) Command {
	return Command{Type: CommandUpdate, TaskID: id, Patch: &patch, HintChildID: childID}
}

// Create re-creates t under its own id.
func Create(t task.Task) Command {
	c := t.Clone()
	return Command{Type: CommandCreate, TaskID: t.ID, Task: &c}
}

func Delete(id string) Command {
	return Command{Type: CommandDelete, TaskID: id}
}

func Batch(cmds ...Command) Command {
	return Command{Type: CommandBatch, Commands: cmds}
}

// Applier executes commands against the authoritative store.
type Applier interface {
	Apply(ctx context.Context, cmd Command) error
}
