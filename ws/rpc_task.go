package ws

import (
	"context"
	"errors"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/rpc"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

// replyTaskError classifies session errors into JSON-RPC error codes.
func (h *rpcMethodHandler) replyTaskError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, engine.ErrTaskNotFound), errors.Is(err, gateway.ErrNotFound):
		h.replyError(ctx, conn, id, jsonrpc2.CodeInvalidParams, "task not found")
	case errors.Is(err, task.ErrInvalidTask), errors.Is(err, gateway.ErrDateConflict):
		h.replyError(ctx, conn, id, jsonrpc2.CodeInvalidParams, err.Error())
	default:
		h.log.Error(fallbackMsg, "error", err)
		h.replyError(ctx, conn, id, jsonrpc2.CodeInternalError, fallbackMsg)
	}
}

func (h *rpcMethodHandler) handleTaskList(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.reply(ctx, conn, req, rpc.TaskListResult{Tasks: h.session.Tree().Tasks()})
}

func (h *rpcMethodHandler) handleTaskGet(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.TaskGetParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	t, err := h.session.Lookup(ctx, params.ID)
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "failed to get task")
		return
	}
	h.reply(ctx, conn, req, t)
}

func (h *rpcMethodHandler) handleTaskCreate(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.TaskCreateParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	t, err := params.Task()
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "invalid task")
		return
	}

	created, err := h.session.CreateTask(ctx, t)
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "failed to create task")
		return
	}

	h.log.Info("task created", "taskId", created.ID, "title", created.Title)
	h.reply(ctx, conn, req, created)
}

func (h *rpcMethodHandler) handleTaskUpdate(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.TaskUpdateParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	updated, err := h.session.UpdateTask(ctx, params.ID, params.Patch())
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "failed to update task")
		return
	}
	h.reply(ctx, conn, req, updated)
}

func (h *rpcMethodHandler) handleTaskSetCompleted(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.TaskSetCompletedParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "completed must be true or false")
		return
	}
	if err := params.Validate(); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, err.Error())
		return
	}

	updated, err := h.session.SetCompleted(ctx, params.ID, *params.Completed)
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "failed to set completion")
		return
	}

	h.log.Info("task completion set", "taskId", updated.ID, "completed", updated.Completed)
	h.reply(ctx, conn, req, updated)
}

func (h *rpcMethodHandler) handleTaskSetInterval(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.TaskSetIntervalParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	iv, err := params.Interval()
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "invalid interval")
		return
	}

	updated, err := h.session.UpdateInterval(ctx, params.ID, iv)
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "failed to set interval")
		return
	}
	h.reply(ctx, conn, req, updated)
}

func (h *rpcMethodHandler) handleTaskDelete(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.TaskDeleteParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := h.session.DeleteTask(ctx, params.ID); err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "failed to delete task")
		return
	}

	h.log.Info("task deleted", "taskId", params.ID)
	h.reply(ctx, conn, req, struct{}{})
}

func (h *rpcMethodHandler) handleTaskCheckConflict(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.TaskCheckConflictParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	child, err := params.Child()
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "invalid interval")
		return
	}

	res, err := h.session.CheckConflict(ctx, params.ParentID, child)
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "failed to check conflict")
		return
	}
	h.reply(ctx, conn, req, res)
}
