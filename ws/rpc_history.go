package ws

import (
	"context"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/ThunderHDs/taskmaster-sub001/history"
	"github.com/ThunderHDs/taskmaster-sub001/rpc"
)

func (h *rpcMethodHandler) replyHistory(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, a *history.Action, err error) {
	if err != nil {
		h.replyTaskError(ctx, conn, req.ID, err, "failed to apply history action")
		return
	}
	if a != nil {
		h.log.Info("history applied", "method", req.Method, "actionId", a.ID, "type", a.Type)
	}
	h.reply(ctx, conn, req, rpc.HistoryResult{Action: a, State: h.session.HistoryState()})
}

func (h *rpcMethodHandler) handleHistoryUndo(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	a, err := h.session.Undo(ctx)
	h.replyHistory(ctx, conn, req, a, err)
}

func (h *rpcMethodHandler) handleHistoryRedo(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	a, err := h.session.Redo(ctx)
	h.replyHistory(ctx, conn, req, a, err)
}

func (h *rpcMethodHandler) handleHistoryUndoToast(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	a, err := h.session.UndoFromToast(ctx)
	h.replyHistory(ctx, conn, req, a, err)
}

func (h *rpcMethodHandler) handleHistoryDismissToast(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.session.DismissToast()
	h.reply(ctx, conn, req, rpc.HistoryResult{State: h.session.HistoryState()})
}

func (h *rpcMethodHandler) handleHistoryState(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.reply(ctx, conn, req, rpc.HistoryResult{State: h.session.HistoryState()})
}
