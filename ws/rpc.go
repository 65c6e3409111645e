// Package ws serves the engine session as JSON-RPC 2.0 over a websocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/logger"
	"github.com/ThunderHDs/taskmaster-sub001/middleware"
	"github.com/ThunderHDs/taskmaster-sub001/rpc"
	"github.com/ThunderHDs/taskmaster-sub001/watch"
)

// RPCHandler accepts websocket connections and serves the session on each.
type RPCHandler struct {
	token       string
	version     string
	devMode     bool
	session     *engine.Session
	treeWatcher *watch.TreeWatcher
}

func NewRPCHandler(token, version string, devMode bool, session *engine.Session) *RPCHandler {
	treeWatcher := watch.NewTreeWatcher(session)
	session.History().AddToastListener(treeWatcher)
	treeWatcher.Start()

	return &RPCHandler{
		token:       token,
		version:     version,
		devMode:     devMode,
		session:     session,
		treeWatcher: treeWatcher,
	}
}

// Stop ends change notifications for every connection.
func (h *RPCHandler) Stop() {
	h.treeWatcher.Stop()
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	h.HandleStream(r.Context(), newWebSocketStream(conn), uuid.Must(uuid.NewV7()).String())
}

// HandleStream serves one client until it disconnects.
func (h *RPCHandler) HandleStream(ctx context.Context, stream jsonrpc2.ObjectStream, connID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "websocket connection crashed", "connId", connID)
		}
	}()

	log := middleware.LoggerFrom(ctx).With("connId", connID)
	log.Info("new connection")

	handler := &rpcMethodHandler{RPCHandler: h, connID: connID, log: log, notifier: &connNotifier{}}
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(handler))
	handler.notifier.conn.Store(conn)

	<-conn.DisconnectNotify()

	if n := h.treeWatcher.Disconnect(handler.notifier); n > 0 {
		log.Debug("dropped subscriptions", "count", n)
	}
	log.Info("connection closed")
}

var errNotConnected = errors.New("connection not ready")

// connNotifier pushes watch notifications to one client.
type connNotifier struct {
	conn atomic.Pointer[jsonrpc2.Conn]
}

func (n *connNotifier) Notify(ctx context.Context, notif watch.Notification) error {
	conn := n.conn.Load()
	if conn == nil {
		return errNotConnected
	}
	return conn.Notify(ctx, notif.Method, notif.Params)
}

type methodFunc func(h *rpcMethodHandler, ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request)

var methods = map[string]methodFunc{
	"task.list":           (*rpcMethodHandler).handleTaskList,
	"task.get":            (*rpcMethodHandler).handleTaskGet,
	"task.create":         (*rpcMethodHandler).handleTaskCreate,
	"task.update":         (*rpcMethodHandler).handleTaskUpdate,
	"task.set_completed":  (*rpcMethodHandler).handleTaskSetCompleted,
	"task.set_interval":   (*rpcMethodHandler).handleTaskSetInterval,
	"task.delete":         (*rpcMethodHandler).handleTaskDelete,
	"task.check_conflict": (*rpcMethodHandler).handleTaskCheckConflict,

	"history.undo":          (*rpcMethodHandler).handleHistoryUndo,
	"history.redo":          (*rpcMethodHandler).handleHistoryRedo,
	"history.undo_toast":    (*rpcMethodHandler).handleHistoryUndoToast,
	"history.dismiss_toast": (*rpcMethodHandler).handleHistoryDismissToast,
	"history.state":         (*rpcMethodHandler).handleHistoryState,

	"tree.subscribe":   (*rpcMethodHandler).handleTreeSubscribe,
	"tree.unsubscribe": (*rpcMethodHandler).handleTreeUnsubscribe,
}

// rpcMethodHandler is the per-connection dispatcher.
type rpcMethodHandler struct {
	*RPCHandler
	connID        string
	log           *slog.Logger
	notifier      *connNotifier
	authenticated atomic.Bool
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "rpc handler panic", "method", req.Method, "connId", h.connID)
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "internal error")
		}
	}()

	if req.Notif {
		h.log.Debug("ignoring client notification", "method", req.Method)
		return
	}
	h.log.Debug("received request", "method", req.Method, "id", req.ID)

	if !h.authenticated.Load() {
		if req.Method != "auth" {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "first request must be auth")
			conn.Close()
			return
		}
		h.handleAuth(ctx, conn, req)
		return
	}

	fn, ok := methods[req.Method]
	if !ok {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
		return
	}
	fn(h, ctx, conn, req)
}

func (h *rpcMethodHandler) handleAuth(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AuthParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		conn.Close()
		return
	}

	if h.token != "" && !middleware.TokenMatches(params.Token, h.token) {
		h.log.Warn("invalid auth token")
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "invalid token")
		conn.Close()
		return
	}

	h.authenticated.Store(true)
	h.log.Info("authenticated")
	h.reply(ctx, conn, req, rpc.AuthResult{Version: h.version, Title: "taskmaster"})
}

func (h *rpcMethodHandler) handleTreeSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	id, tasks := h.treeWatcher.Subscribe(h.notifier)
	h.log.Debug("subscribed", "watchId", id)
	h.reply(ctx, conn, req, rpc.TreeSubscribeResult{ID: id, Tasks: tasks})
}

func (h *rpcMethodHandler) handleTreeUnsubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.UnsubscribeParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	if params.ID == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "id is required")
		return
	}

	if h.treeWatcher.Unsubscribe(params.ID) {
		h.log.Debug("unsubscribed", "watchId", params.ID)
	}
	h.reply(ctx, conn, req, struct{}{})
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	if err := conn.ReplyWithError(ctx, id, &jsonrpc2.Error{Code: code, Message: message}); err != nil {
		h.log.Error("failed to send error response", "error", err)
	}
}

func (h *rpcMethodHandler) reply(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, result any) {
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send response", "method", req.Method, "error", err)
	}
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return errors.New("params required")
	}
	return json.Unmarshal(*req.Params, v)
}
