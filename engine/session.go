// Package engine owns the live task tree and applies every mutation through
// the gateway, keeping the tree, the cascade and the undo history in step.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ThunderHDs/taskmaster-sub001/cascade"
	"github.com/ThunderHDs/taskmaster-sub001/gateway"
	"github.com/ThunderHDs/taskmaster-sub001/history"
	"github.com/ThunderHDs/taskmaster-sub001/logger"
	"github.com/ThunderHDs/taskmaster-sub001/task"
	"github.com/ThunderHDs/taskmaster-sub001/tree"
)

var ErrTaskNotFound = errors.New("task not found")

// StateUpdate is emitted after every successful local merge.
type StateUpdate struct {
	TaskID  string     `json:"task_id"`
	Task    *task.Task `json:"task,omitempty"`
	Removed bool       `json:"removed,omitempty"`
}

type Listener interface {
	OnTaskStateUpdate(u StateUpdate)
}

type Option func(*Session)

func WithHistoryOptions(opts ...history.Option) Option {
	return func(s *Session) { s.historyOpts = append(s.historyOpts, opts...) }
}

// WithSyncCascade runs cascades before the triggering call returns
// instead of in the background.
func WithSyncCascade() Option {
	return func(s *Session) { s.syncCascade = true }
}

// WithExternalWatch makes Load start the gateway's watcher, if it has one,
// and reload whenever another process changes the store.
func WithExternalWatch() Option {
	return func(s *Session) { s.watchExternal = true }
}

// WithCascadeReports receives the report of every cascade run.
func WithCascadeReports(fn func(cascade.Report)) Option {
	return func(s *Session) { s.onCascade = fn }
}

// Session is the single owner of the tree snapshot, the in-flight set and
// the undo history. Create one per store with New and dispose of it with
// Close.
type Session struct {
	gw            gateway.Gateway
	cascade       *cascade.Engine
	history       *history.Manager
	historyOpts   []history.Option
	syncCascade   bool
	watchExternal bool
	watcher       gateway.Watcher
	onCascade     func(cascade.Report)

	mu        sync.Mutex
	tree      *tree.Tree
	listeners []Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	watchOnce sync.Once
	closeOnce sync.Once
}

func New(gw gateway.Gateway, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		gw:     gw,
		tree:   tree.New(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.cascade = cascade.New(gw, cascade.NewInFlight())
	s.history = history.NewManager(s, s.historyOpts...)
	s.watcher = findWatcher(gw)
	return s
}

type unwrapper interface {
	Unwrap() gateway.Gateway
}

func findWatcher(gw gateway.Gateway) gateway.Watcher {
	for gw != nil {
		if w, ok := gw.(gateway.Watcher); ok {
			return w
		}
		u, ok := gw.(unwrapper)
		if !ok {
			return nil
		}
		gw = u.Unwrap()
	}
	return nil
}

// History exposes the undo manager, e.g. for toast listeners.
func (s *Session) History() *history.Manager {
	return s.history
}

// --- Snapshot ---

// Tree returns the current snapshot. It must not be modified.
func (s *Session) Tree() *tree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

func (s *Session) Get(id string) (task.Task, bool) {
	n, ok := s.Tree().Find(id)
	return n.Task, ok
}

// Merge replaces a task's fields with the canonical record from the
// gateway and notifies listeners. Unknown tasks are inserted when their
// parent is present.
func (s *Session) Merge(t task.Task) {
	s.mu.Lock()
	next := s.tree.Merge(t)
	if next == s.tree {
		next = s.tree.Insert(t)
	}
	changed := next != s.tree
	s.tree = next
	s.mu.Unlock()

	if changed {
		s.notify(updated(t))
	}
}

func (s *Session) removeLocal(id string) {
	s.mu.Lock()
	var gone []string
	if s.tree.Has(id) {
		gone = append([]string{id}, s.tree.Descendants(id)...)
		s.tree = s.tree.Remove(id)
	}
	s.mu.Unlock()

	ups := make([]StateUpdate, len(gone))
	for i, g := range gone {
		ups[i] = StateUpdate{TaskID: g, Removed: true}
	}
	s.notify(ups...)
}

// TaskCounts reports open and completed tasks in the snapshot.
func (s *Session) TaskCounts() (open, completed int64) {
	for _, t := range s.Tree().Tasks() {
		if t.Completed {
			completed++
		} else {
			open++
		}
	}
	return open, completed
}

// --- Listeners ---

func (s *Session) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Must be called WITHOUT s.mu held.
func (s *Session) notify(ups ...StateUpdate) {
	if len(ups) == 0 {
		return
	}
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, u := range ups {
		for _, l := range listeners {
			l.OnTaskStateUpdate(u)
		}
	}
}

func updated(t task.Task) StateUpdate {
	c := t.Clone()
	return StateUpdate{TaskID: t.ID, Task: &c}
}

// --- Cascade ---

func (s *Session) triggerCascade(ctx context.Context, id string) {
	if s.syncCascade {
		s.finishCascade(s.cascade.Run(ctx, s, id))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.LogPanic(r, "cascade crashed", "taskId", id)
			}
		}()
		s.finishCascade(s.cascade.Run(s.ctx, s, id))
	}()
}

func (s *Session) finishCascade(r cascade.Report) {
	if s.onCascade != nil {
		s.onCascade(r)
	}
}

// InFlight exposes the cascade's in-flight set.
func (s *Session) InFlight() *cascade.InFlight {
	return s.cascade.InFlight()
}

// --- External changes ---

// OnTaskChange reloads the snapshot when another process changed the store.
func (s *Session) OnTaskChange(e gateway.ChangeEvent) {
	if !e.External {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Reload(s.ctx); err != nil && s.ctx.Err() == nil {
			slog.Error("reload after external change failed", "taskId", e.Task.ID, "error", err)
		}
	}()
}

func (s *Session) startWatching() error {
	var err error
	s.watchOnce.Do(func() {
		if !s.watchExternal || s.watcher == nil {
			return
		}
		s.watcher.AddChangeListener(s)
		err = s.watcher.StartWatching()
	})
	return err
}

// Wait blocks until background cascades and reloads have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels background work, waits for it, and releases the history.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.watchExternal && s.watcher != nil {
			s.watcher.StopWatching()
		}
		s.cancel()
		s.wg.Wait()
		s.history.Close()
	})
}
