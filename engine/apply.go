package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/history"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

// Apply executes a history command against the gateway and merges the
// results into the snapshot. Batches stop at the first failure.
func (s *Session) Apply(ctx context.Context, cmd history.Command) error {
	switch cmd.Type {
	case history.CommandBatch:
		for _, c := range cmd.Commands {
			if err := s.Apply(ctx, c); err != nil {
				return err
			}
		}
		return nil

	case history.CommandUpdate:
		if cmd.Patch == nil {
			return fmt.Errorf("%w: update of %s has no patch", task.ErrInvalidTask, cmd.TaskID)
		}
		var hint *gateway.ConflictHint
		if cmd.HintChildID != "" {
			hint = &gateway.ConflictHint{ChildID: cmd.HintChildID}
		}
		prev, _ := s.Get(cmd.TaskID)
		updated, err := s.updateRemote(ctx, cmd.TaskID, *cmd.Patch, hint)
		if err != nil {
			return err
		}
		s.afterUpdate(ctx, prev, updated)
		return nil

	case history.CommandCreate:
		if cmd.Task == nil {
			return fmt.Errorf("%w: create of %s has no task", task.ErrInvalidTask, cmd.TaskID)
		}
		created, err := s.gw.CreateTask(ctx, *cmd.Task)
		if err != nil {
			return fmt.Errorf("create task %s: %w", cmd.TaskID, err)
		}
		s.Merge(created)
		return nil

	case history.CommandDelete:
		if err := s.gw.DeleteTask(ctx, cmd.TaskID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return fmt.Errorf("delete task %s: %w", cmd.TaskID, err)
		}
		s.removeLocal(cmd.TaskID)
		return nil

	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}
