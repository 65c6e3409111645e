// Package history turns completed mutations into reversible actions kept on
// bounded undo and redo stacks.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ThunderHDs/taskmaster-sub001/metrics"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

const (
	DefaultLimit    = 50
	DefaultToastTTL = 5 * time.Second
)

type ActionType string

const (
	ActionComplete ActionType = "complete"
	ActionReopen   ActionType = "reopen"
	ActionInterval ActionType = "interval"
	ActionEdit     ActionType = "edit"
	ActionCreate   ActionType = "create"
	ActionDelete   ActionType = "delete"
)

// Action is one reversible unit. Before and After hold the affected tasks
// as they were around the original mutation.
type Action struct {
	ID          string      `json:"id"`
	Type        ActionType  `json:"type"`
	Timestamp   time.Time   `json:"timestamp"`
	Description string      `json:"description"`
	Before      []task.Task `json:"before,omitempty"`
	After       []task.Task `json:"after,omitempty"`
	Forward     Command     `json:"forward"`
	Inverse     Command     `json:"inverse"`
}

// Toast is the transient notice offered after a record.
type Toast struct {
	ActionID  string    `json:"action_id"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ToastListener is told when a toast appears (visible) or goes away.
type ToastListener interface {
	OnToast(t Toast, visible bool)
}

type State struct {
	CanUndo   bool   `json:"can_undo"`
	CanRedo   bool   `json:"can_redo"`
	UndoDepth int    `json:"undo_depth"`
	RedoDepth int    `json:"redo_depth"`
	Busy      bool   `json:"busy"`
	NextUndo  string `json:"next_undo,omitempty"`
	NextRedo  string `json:"next_redo,omitempty"`
	Toast     *Toast `json:"toast,omitempty"`
}

type Option func(*Manager)

func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

func WithToastTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.toastTTL = d
		}
	}
}

func WithJournal(j *Journal) Option {
	return func(m *Manager) { m.journal = j }
}

func WithToastListener(l ToastListener) Option {
	return func(m *Manager) { m.toastListeners = append(m.toastListeners, l) }
}

type Manager struct {
	applier        Applier
	limit          int
	toastTTL       time.Duration
	journal        *Journal
	toastListeners []ToastListener

	// busy is held for the whole of an undo or redo, including the
	// applier call. Callers arriving while it is set are dropped.
	busy atomic.Bool

	mu         sync.Mutex
	undo       []*Action
	redo       []*Action
	toast      *Toast
	toastTimer *time.Timer

	// records counts Record calls. An undo or redo compares it before and
	// after its applier call to detect actions recorded meanwhile.
	records uint64
}

func NewManager(applier Applier, opts ...Option) *Manager {
	m := &Manager{applier: applier, limit: DefaultLimit, toastTTL: DefaultToastTTL}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Record pushes an action for a mutation that already succeeded. The redo
// stack is cleared and the oldest action is evicted past the limit.
func (m *Manager) Record(typ ActionType, description string, before, after []task.Task, forward, inverse Command) *Action {
	a := &Action{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Type:        typ,
		Timestamp:   time.Now(),
		Description: description,
		Before:      cloneTasks(before),
		After:       cloneTasks(after),
		Forward:     forward,
		Inverse:     inverse,
	}

	m.mu.Lock()
	m.undo = m.push(m.undo, a)
	m.redo = nil
	m.records++
	toast := m.showToastLocked(a)
	listeners := m.toastListeners
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnToast(toast, true)
	}
	metrics.RecordHistoryOp(context.Background(), "record")
	m.journalAppend(EventRecord, a)
	return a
}

// Undo reverts the most recent action. It returns (nil, nil) when there is
// nothing to undo or another undo or redo is running. On failure the
// action goes back on the undo stack, below anything recorded meanwhile,
// and the error is returned. An action recorded during the undo clears
// redo, so the undone action is then not redoable.
func (m *Manager) Undo(ctx context.Context) (*Action, error) {
	return m.undoIf(ctx, "")
}

// UndoFromToast undoes only while the toast still refers to the most
// recent action.
func (m *Manager) UndoFromToast(ctx context.Context) (*Action, error) {
	m.mu.Lock()
	toast := m.toast
	m.mu.Unlock()
	if toast == nil {
		return nil, nil
	}
	return m.undoIf(ctx, toast.ActionID)
}

func (m *Manager) undoIf(ctx context.Context, wantID string) (*Action, error) {
	if !m.busy.CompareAndSwap(false, true) {
		slog.Debug("undo dropped, history busy")
		return nil, nil
	}
	defer m.busy.Store(false)

	m.mu.Lock()
	if len(m.undo) == 0 {
		m.mu.Unlock()
		return nil, nil
	}
	a := m.undo[len(m.undo)-1]
	if wantID != "" && a.ID != wantID {
		m.mu.Unlock()
		return nil, nil
	}
	m.undo = m.undo[:len(m.undo)-1]
	seen := m.records
	m.mu.Unlock()

	if err := m.applier.Apply(ctx, a.Inverse); err != nil {
		m.mu.Lock()
		m.undo = m.insertBelow(m.undo, a, int(m.records-seen))
		m.mu.Unlock()
		metrics.RecordHistoryOp(ctx, "undo_failed")
		return a, fmt.Errorf("undo %q: %w", a.Description, err)
	}

	m.mu.Lock()
	if m.records == seen {
		m.redo = m.push(m.redo, a)
	} else {
		// A newer action cleared the redo stack; redoing a would replay it
		// over that action's state.
		slog.Debug("undone action not redoable, recorded over", "actionId", a.ID)
	}
	hidden, hid := m.hideToastLocked(a.ID)
	listeners := m.toastListeners
	m.mu.Unlock()

	if hid {
		for _, l := range listeners {
			l.OnToast(hidden, false)
		}
	}
	metrics.RecordHistoryOp(ctx, "undo")
	m.journalAppend(EventUndo, a)
	return a, nil
}

// Redo re-applies the most recently undone action, symmetric to Undo.
func (m *Manager) Redo(ctx context.Context) (*Action, error) {
	if !m.busy.CompareAndSwap(false, true) {
		slog.Debug("redo dropped, history busy")
		return nil, nil
	}
	defer m.busy.Store(false)

	m.mu.Lock()
	if len(m.redo) == 0 {
		m.mu.Unlock()
		return nil, nil
	}
	a := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	seen := m.records
	m.mu.Unlock()

	if err := m.applier.Apply(ctx, a.Forward); err != nil {
		m.mu.Lock()
		if m.records == seen {
			m.redo = m.push(m.redo, a)
		}
		m.mu.Unlock()
		metrics.RecordHistoryOp(ctx, "redo_failed")
		return a, fmt.Errorf("redo %q: %w", a.Description, err)
	}

	m.mu.Lock()
	m.undo = m.push(m.undo, a)
	m.mu.Unlock()

	metrics.RecordHistoryOp(ctx, "redo")
	m.journalAppend(EventRedo, a)
	return a, nil
}

// insertBelow puts a back under the top n actions, which were recorded
// while a was out of the stack. Caller must hold m.mu.
func (m *Manager) insertBelow(stack []*Action, a *Action, n int) []*Action {
	at := max(len(stack)-n, 0)
	out := make([]*Action, 0, len(stack)+1)
	out = append(out, stack[:at]...)
	out = append(out, a)
	out = append(out, stack[at:]...)
	if over := len(out) - m.limit; over > 0 {
		out = out[over:]
	}
	return out
}

// push appends a and evicts from the bottom past the limit.
// Caller must hold m.mu.
func (m *Manager) push(stack []*Action, a *Action) []*Action {
	stack = append(stack, a)
	if over := len(stack) - m.limit; over > 0 {
		stack = append([]*Action(nil), stack[over:]...)
	}
	return stack
}

// --- Toast ---

func (m *Manager) Toast() (Toast, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.toast == nil {
		return Toast{}, false
	}
	return *m.toast, true
}

func (m *Manager) DismissToast() {
	m.mu.Lock()
	if m.toast == nil {
		m.mu.Unlock()
		return
	}
	hidden, _ := m.hideToastLocked(m.toast.ActionID)
	listeners := m.toastListeners
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnToast(hidden, false)
	}
}

// Caller must hold m.mu.
func (m *Manager) showToastLocked(a *Action) Toast {
	if m.toastTimer != nil {
		m.toastTimer.Stop()
	}
	t := Toast{ActionID: a.ID, Message: a.Description, ExpiresAt: a.Timestamp.Add(m.toastTTL)}
	m.toast = &t
	id := a.ID
	m.toastTimer = time.AfterFunc(m.toastTTL, func() { m.expireToast(id) })
	return t
}

// hideToastLocked clears the toast if it refers to actionID.
// Caller must hold m.mu.
func (m *Manager) hideToastLocked(actionID string) (Toast, bool) {
	if m.toast == nil || m.toast.ActionID != actionID {
		return Toast{}, false
	}
	t := *m.toast
	m.toast = nil
	if m.toastTimer != nil {
		m.toastTimer.Stop()
		m.toastTimer = nil
	}
	return t, true
}

func (m *Manager) expireToast(actionID string) {
	m.mu.Lock()
	if m.toast == nil || m.toast.ActionID != actionID {
		m.mu.Unlock()
		return
	}
	t := *m.toast
	m.toast = nil
	m.toastTimer = nil
	listeners := m.toastListeners
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnToast(t, false)
	}
}

// AddToastListener registers l for toast changes.
func (m *Manager) AddToastListener(l ToastListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toastListeners = append(append([]ToastListener(nil), m.toastListeners...), l)
}

// --- Inspection ---

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := State{
		CanUndo:   len(m.undo) > 0,
		CanRedo:   len(m.redo) > 0,
		UndoDepth: len(m.undo),
		RedoDepth: len(m.redo),
		Busy:      m.busy.Load(),
	}
	if s.CanUndo {
		s.NextUndo = m.undo[len(m.undo)-1].Description
	}
	if s.CanRedo {
		s.NextRedo = m.redo[len(m.redo)-1].Description
	}
	if m.toast != nil {
		t := *m.toast
		s.Toast = &t
	}
	return s
}

// UndoStack returns the undo stack, most recent last.
func (m *Manager) UndoStack() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Action, len(m.undo))
	for i, a := range m.undo {
		out[i] = *a
	}
	return out
}

// Close stops the toast timer. Stacks are discarded with the manager.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.toastTimer != nil {
		m.toastTimer.Stop()
		m.toastTimer = nil
	}
	m.toast = nil
}

func (m *Manager) journalAppend(ev Event, a *Action) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Append(ev, *a); err != nil {
		slog.Warn("failed to journal history action", "actionId", a.ID, "event", ev, "error", err)
	}
}

func cloneTasks(in []task.Task) []task.Task {
	if in == nil {
		return nil
	}
	out := make([]task.Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
