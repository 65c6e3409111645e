package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThunderHDs/taskmaster-sub001/task"
)

// --- fakes ---

type mockApplier struct {
	mu      sync.Mutex
	applied []Command
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (m *mockApplier) Apply(_ context.Context, cmd Command) error {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.applied = append(m.applied, cmd)
	return nil
}

func (m *mockApplier) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockApplier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

func (m *mockApplier) last() Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[len(m.applied)-1]
}

type toastRecorder struct {
	mu     sync.Mutex
	shown  []Toast
	hidden []Toast
}

func (r *toastRecorder) OnToast(t Toast, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if visible {
		r.shown = append(r.shown, t)
	} else {
		r.hidden = append(r.hidden, t)
	}
}

func (r *toastRecorder) hiddenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hidden)
}

func ptr[T any](v T) *T { return &v }

func record(m *Manager, name string) *Action {
	return m.Record(ActionComplete, name, nil, nil,
		Update(name, task.Patch{Completed: ptr(true)}),
		Update(name, task.Patch{Completed: ptr(false)}))
}

// --- tests ---

func TestUndoRedo(t *testing.T) {
	app := &mockApplier{}
	m := NewManager(app)
	a := record(m, "x")

	got, err := m.Undo(context.Background())
	if err != nil || got == nil || got.ID != a.ID {
		t.Fatalf("Undo = %v, %v", got, err)
	}
	if c := app.last(); c.TaskID != "x" || *c.Patch.Completed {
		t.Errorf("undo applied %+v, want inverse", c)
	}
	if s := m.State(); s.UndoDepth != 0 || s.RedoDepth != 1 {
		t.Errorf("state after undo = %+v", s)
	}

	got, err = m.Redo(context.Background())
	if err != nil || got == nil || got.ID != a.ID {
		t.Fatalf("Redo = %v, %v", got, err)
	}
	if c := app.last(); !*c.Patch.Completed {
		t.Errorf("redo applied %+v, want forward", c)
	}
	if s := m.State(); s.UndoDepth != 1 || s.RedoDepth != 0 {
		t.Errorf("state after redo = %+v", s)
	}
}

func TestUndo_EmptyIsNoop(t *testing.T) {
	app := &mockApplier{}
	m := NewManager(app)

	a, err := m.Undo(context.Background())
	if a != nil || err != nil {
		t.Errorf("Undo on empty stack = %v, %v", a, err)
	}
	if app.count() != 0 {
		t.Error("applier called")
	}
}

func TestRecord_CapsUndoStack(t *testing.T) {
	m := NewManager(&mockApplier{})
	for i := 1; i <= DefaultLimit+1; i++ {
		record(m, fmt.Sprintf("action %d", i))
	}

	stack := m.UndoStack()
	if len(stack) != DefaultLimit {
		t.Fatalf("undo depth = %d, want %d", len(stack), DefaultLimit)
	}
	if stack[0].Description != "action 2" {
		t.Errorf("oldest = %q, want action 2", stack[0].Description)
	}
	if stack[len(stack)-1].Description != "action 51" {
		t.Errorf("newest = %q", stack[len(stack)-1].Description)
	}
}

func TestRedo_AfterFreshRecordIsNoop(t *testing.T) {
	app := &mockApplier{}
	m := NewManager(app)
	record(m, "a")
	m.Undo(context.Background())
	record(m, "b")

	got, err := m.Redo(context.Background())
	if got != nil || err != nil {
		t.Errorf("Redo = %v, %v, want no-op", got, err)
	}
	if app.count() != 1 {
		t.Errorf("applier calls = %d, want only the undo", app.count())
	}
}

func TestUndo_ConcurrentCallIsDropped(t *testing.T) {
	app := &mockApplier{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := NewManager(app)
	record(m, "a")
	record(m, "b")

	done := make(chan error, 1)
	go func() {
		_, err := m.Undo(context.Background())
		done <- err
	}()
	<-app.entered

	if a, err := m.Undo(context.Background()); a != nil || err != nil {
		t.Errorf("second Undo = %v, %v, want dropped", a, err)
	}
	if a, err := m.Redo(context.Background()); a != nil || err != nil {
		t.Errorf("Redo during undo = %v, %v, want dropped", a, err)
	}
	if !m.State().Busy {
		t.Error("state not busy during undo")
	}

	app.entered = nil
	close(app.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Undo: %v", err)
	}
	if s := m.State(); s.UndoDepth != 1 || s.RedoDepth != 1 {
		t.Errorf("state = %+v, want one undone", s)
	}
}

func TestUndo_FailureRestoresAction(t *testing.T) {
	app := &mockApplier{}
	m := NewManager(app)
	a := record(m, "a")
	boom := errors.New("backend down")
	app.setErr(boom)

	got, err := m.Undo(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got == nil || got.ID != a.ID {
		t.Errorf("action = %v", got)
	}
	if s := m.State(); s.UndoDepth != 1 || s.RedoDepth != 0 || s.Busy {
		t.Errorf("state = %+v, want action back on undo stack", s)
	}

	app.setErr(nil)
	if _, err := m.Undo(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestRedo_FailureRestoresAction(t *testing.T) {
	app := &mockApplier{}
	m := NewManager(app)
	record(m, "a")
	m.Undo(context.Background())
	app.setErr(errors.New("nope"))

	if _, err := m.Redo(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if s := m.State(); s.RedoDepth != 1 || s.UndoDepth != 0 {
		t.Errorf("state = %+v", s)
	}
}

// undoGated starts an undo that blocks inside the applier and returns a
// func that releases it and waits for the result.
func undoGated(t *testing.T, m *Manager, app *mockApplier) func() error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := m.Undo(context.Background())
		done <- err
	}()
	<-app.entered
	return func() error {
		close(app.gate)
		return <-done
	}
}

func TestUndo_RecordDuringUndoClearsRedo(t *testing.T) {
	app := &mockApplier{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := NewManager(app)
	record(m, "a")

	release := undoGated(t, m, app)
	b := record(m, "b")
	if err := release(); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	s := m.State()
	if s.RedoDepth != 0 || s.CanRedo {
		t.Errorf("state = %+v, want empty redo after record", s)
	}
	if stack := m.UndoStack(); len(stack) != 1 || stack[0].ID != b.ID {
		t.Errorf("undo stack = %v, want only b", stack)
	}
	if a, err := m.Redo(context.Background()); a != nil || err != nil {
		t.Errorf("Redo = %v, %v, want no-op", a, err)
	}
}

func TestUndo_FailureDuringRecordKeepsOrder(t *testing.T) {
	app := &mockApplier{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	m := NewManager(app)
	a := record(m, "a")
	app.setErr(errors.New("backend down"))

	release := undoGated(t, m, app)
	b := record(m, "b")
	if err := release(); err == nil {
		t.Fatal("expected undo error")
	}

	stack := m.UndoStack()
	if len(stack) != 2 || stack[0].ID != a.ID || stack[1].ID != b.ID {
		t.Fatalf("undo stack = %v, want a below b", stack)
	}
	if s := m.State(); s.NextUndo != "b" {
		t.Errorf("next undo = %q, want b", s.NextUndo)
	}
}

func TestUndoFromToast(t *testing.T) {
	app := &mockApplier{}
	m := NewManager(app)
	record(m, "a")
	b := record(m, "b")

	toast, ok := m.Toast()
	if !ok || toast.ActionID != b.ID {
		t.Fatalf("toast = %+v, %v", toast, ok)
	}
	got, err := m.UndoFromToast(context.Background())
	if err != nil || got == nil || got.ID != b.ID {
		t.Fatalf("UndoFromToast = %v, %v", got, err)
	}
	if _, ok := m.Toast(); ok {
		t.Error("toast still shown after undo")
	}

	// No toast: no-op.
	if got, _ := m.UndoFromToast(context.Background()); got != nil {
		t.Errorf("undo without toast = %v", got)
	}
}

func TestUndoFromToast_StaleToastIsNoop(t *testing.T) {
	app := &mockApplier{}
	m := NewManager(app)
	a := record(m, "a")
	record(m, "b")

	m.mu.Lock()
	m.toast = &Toast{ActionID: a.ID, Message: a.Description}
	m.mu.Unlock()

	got, err := m.UndoFromToast(context.Background())
	if got != nil || err != nil {
		t.Errorf("UndoFromToast = %v, %v, want no-op", got, err)
	}
	if app.count() != 0 || m.State().UndoDepth != 2 {
		t.Error("stale toast undid something")
	}
}

func TestToast_ExpiresAndDismisses(t *testing.T) {
	rec := &toastRecorder{}
	m := NewManager(&mockApplier{}, WithToastTTL(20*time.Millisecond), WithToastListener(rec))
	defer m.Close()

	record(m, "a")
	waitFor(t, func() bool {
		_, ok := m.Toast()
		return !ok
	})
	waitFor(t, func() bool { return rec.hiddenCount() == 1 })

	m2 := NewManager(&mockApplier{}, WithToastListener(rec))
	defer m2.Close()
	record(m2, "b")
	m2.DismissToast()
	if _, ok := m2.Toast(); ok {
		t.Error("toast still shown after dismiss")
	}
	if rec.hiddenCount() != 2 {
		t.Errorf("hidden events = %d, want 2", rec.hiddenCount())
	}
}

func TestJournal(t *testing.T) {
	j := OpenJournal(t.TempDir())
	m := NewManager(&mockApplier{}, WithJournal(j))
	defer m.Close()

	a := record(m, "a")
	m.Undo(context.Background())
	m.Redo(context.Background())

	entries, err := j.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	want := []Event{EventRecord, EventUndo, EventRedo}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, ev := range want {
		if entries[i].Event != ev || entries[i].Action.ID != a.ID {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, entries[i].Event, entries[i].Action.ID, ev, a.ID)
		}
	}
	if entries[0].Action.Inverse.Patch == nil || *entries[0].Action.Inverse.Patch.Completed {
		t.Error("inverse command not preserved")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
