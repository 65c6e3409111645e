package watch

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/history"
	"github.com/ThunderHDs/taskmaster-sub001/task"
	"github.com/ThunderHDs/taskmaster-sub001/tree"
)

const (
	MethodTreeChanged  = "tree.changed"
	MethodHistoryToast = "history.toast"
)

// TreeSource is the part of engine.Session the watcher needs.
type TreeSource interface {
	Tree() *tree.Tree
	AddListener(l engine.Listener)
}

type treeEvent struct {
	update  *engine.StateUpdate
	toast   *history.Toast
	visible bool
}

// TreeWatcher pushes task updates and undo toasts to subscribers.
// Listener callbacks only enqueue; a single loop delivers in order.
type TreeWatcher struct {
	subs    *registry
	source  TreeSource
	eventCh chan treeEvent
	dirty   atomic.Bool // set when an update is dropped; triggers full sync

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTreeWatcher(source TreeSource) *TreeWatcher {
	w := newTreeWatcher(source, 64)
	source.AddListener(w)
	return w
}

func newTreeWatcher(source TreeSource, buffer int) *TreeWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &TreeWatcher{
		subs:    newRegistry("tree"),
		source:  source,
		eventCh: make(chan treeEvent, buffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (w *TreeWatcher) Start() {
	go w.eventLoop()
	slog.Info("TreeWatcher started")
}

func (w *TreeWatcher) Stop() {
	w.cancel()
	slog.Info("TreeWatcher stopped")
}

func (w *TreeWatcher) eventLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.eventCh:
			switch {
			case ev.toast != nil:
				w.notifyToast(*ev.toast, ev.visible)
			case w.dirty.Swap(false):
				w.notifySync()
			default:
				w.notifyChange(*ev.update)
			}
		}
	}
}

type TreeChangedParams struct {
	ID        string      `json:"id"`
	Operation string      `json:"operation"`
	Task      *task.Task  `json:"task,omitempty"`
	TaskID    string      `json:"task_id,omitempty"`
	Tasks     []task.Task `json:"tasks,omitempty"`
}

type ToastParams struct {
	Toast   history.Toast `json:"toast"`
	Visible bool          `json:"visible"`
}

func (w *TreeWatcher) notifyChange(u engine.StateUpdate) {
	if w.subs.len() == 0 {
		return
	}
	w.subs.broadcast(w.ctx, MethodTreeChanged, func(id string) any {
		if u.Removed {
			return TreeChangedParams{ID: id, Operation: "remove", TaskID: u.TaskID}
		}
		return TreeChangedParams{ID: id, Operation: "update", Task: u.Task, TaskID: u.TaskID}
	})
	slog.Debug("notified tree change", "taskId", u.TaskID, "removed", u.Removed)
}

// notifySync sends the full tree after dropped updates.
func (w *TreeWatcher) notifySync() {
	if w.subs.len() == 0 {
		return
	}
	tasks := w.source.Tree().Tasks()
	w.subs.broadcast(w.ctx, MethodTreeChanged, func(id string) any {
		return TreeChangedParams{ID: id, Operation: "sync", Tasks: tasks}
	})
	slog.Info("sent full tree sync to subscribers after event drop")
}

func (w *TreeWatcher) notifyToast(t history.Toast, visible bool) {
	w.subs.broadcast(w.ctx, MethodHistoryToast, func(string) any {
		return ToastParams{Toast: t, Visible: visible}
	})
}

// Subscribe registers a subscriber and returns the current tree flattened
// in pre-order.
func (w *TreeWatcher) Subscribe(notifier Notifier) (string, []task.Task) {
	// Add the subscription before reading the tree to avoid missing updates.
	id := w.subs.add(notifier)
	return id, w.source.Tree().Tasks()
}

// Unsubscribe reports whether id was subscribed.
func (w *TreeWatcher) Unsubscribe(id string) bool {
	return w.subs.remove(id)
}

// Disconnect drops every subscription of a client that went away.
func (w *TreeWatcher) Disconnect(notifier Notifier) int {
	return w.subs.removeNotifier(notifier)
}

func (w *TreeWatcher) Subscribers() int {
	return w.subs.len()
}

// OnTaskStateUpdate implements engine.Listener. It must not block.
func (w *TreeWatcher) OnTaskStateUpdate(u engine.StateUpdate) {
	select {
	case <-w.ctx.Done():
		return
	case w.eventCh <- treeEvent{update: &u}:
	default:
		w.dirty.Store(true)
		slog.Warn("tree update dropped, will sync on next event", "taskId", u.TaskID)
	}
}

// OnToast implements history.ToastListener.
func (w *TreeWatcher) OnToast(t history.Toast, visible bool) {
	select {
	case <-w.ctx.Done():
	case w.eventCh <- treeEvent{toast: &t, visible: visible}:
	default:
		slog.Warn("toast notification dropped", "actionId", t.ActionID)
	}
}
