package watch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/history"
	"github.com/ThunderHDs/taskmaster-sub001/task"
	"github.com/ThunderHDs/taskmaster-sub001/tree"
)

type captureNotifier struct {
	mu      sync.Mutex
	params  []json.RawMessage
	methods []string
}

func (n *captureNotifier) Notify(_ context.Context, notif Notification) error {
	data, _ := json.Marshal(notif.Params)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.params = append(n.params, data)
	n.methods = append(n.methods, notif.Method)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.params)
}

func (n *captureNotifier) last() (string, json.RawMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.params) == 0 {
		return "", nil
	}
	return n.methods[len(n.methods)-1], n.params[len(n.params)-1]
}

type mockSource struct {
	tree     *tree.Tree
	listener engine.Listener
}

func (m *mockSource) Tree() *tree.Tree              { return m.tree }
func (m *mockSource) AddListener(l engine.Listener) { m.listener = l }

func newSource() *mockSource {
	return &mockSource{tree: tree.Build([]task.Task{
		{ID: "p", Title: "Parent"},
		{ID: "c", ParentID: "p", Title: "Child"},
	})}
}

func TestTreeWatcher_Subscribe(t *testing.T) {
	src := newSource()
	w := NewTreeWatcher(src)

	id, tasks := w.Subscribe(&captureNotifier{})
	if id == "" {
		t.Error("expected non-empty subscription ID")
	}
	if len(tasks) != 2 || tasks[0].ID != "p" {
		t.Errorf("tasks = %+v", tasks)
	}
	if src.listener != w {
		t.Error("watcher not registered as listener")
	}

	if !w.Unsubscribe(id) || w.Subscribers() != 0 {
		t.Error("expected subscription to be removed")
	}
}

func TestTreeWatcher_NotifyUpdateAndRemove(t *testing.T) {
	w := NewTreeWatcher(newSource())
	w.Start()
	defer w.Stop()

	notifier := &captureNotifier{}
	w.Subscribe(notifier)

	tk := task.Task{ID: "c", ParentID: "p", Title: "Child", Completed: true}
	w.OnTaskStateUpdate(engine.StateUpdate{TaskID: "c", Task: &tk})
	waitFor(t, func() bool { return notifier.count() >= 1 })

	method, raw := notifier.last()
	var params TreeChangedParams
	json.Unmarshal(raw, &params)
	if method != MethodTreeChanged || params.Operation != "update" || params.Task == nil || !params.Task.Completed {
		t.Errorf("got %s %+v", method, params)
	}

	w.OnTaskStateUpdate(engine.StateUpdate{TaskID: "c", Removed: true})
	waitFor(t, func() bool { return notifier.count() >= 2 })
	_, raw = notifier.last()
	params = TreeChangedParams{}
	json.Unmarshal(raw, &params)
	if params.Operation != "remove" || params.TaskID != "c" {
		t.Errorf("remove params = %+v", params)
	}
}

func TestTreeWatcher_Toast(t *testing.T) {
	w := NewTreeWatcher(newSource())
	w.Start()
	defer w.Stop()

	notifier := &captureNotifier{}
	w.Subscribe(notifier)

	w.OnToast(history.Toast{ActionID: "a1", Message: `Completed "Child"`}, true)
	waitFor(t, func() bool { return notifier.count() >= 1 })

	method, raw := notifier.last()
	var params ToastParams
	json.Unmarshal(raw, &params)
	if method != MethodHistoryToast || params.Toast.ActionID != "a1" || !params.Visible {
		t.Errorf("got %s %+v", method, params)
	}
}

func TestTreeWatcher_DirtyFlag_SyncsAfterDrop(t *testing.T) {
	src := newSource()
	w := newTreeWatcher(src, 1)

	notifier := &captureNotifier{}
	w.Subscribe(notifier)

	// Fill the buffer, then drop one.
	w.OnTaskStateUpdate(engine.StateUpdate{TaskID: "p"})
	w.OnTaskStateUpdate(engine.StateUpdate{TaskID: "c"})
	if !w.dirty.Load() {
		t.Fatal("dropped update did not set dirty flag")
	}

	w.Start()
	defer w.Stop()
	waitFor(t, func() bool { return notifier.count() >= 1 })

	_, raw := notifier.last()
	var params TreeChangedParams
	if err := json.Unmarshal(raw, &params); err != nil {
		t.Fatalf("unmarshal sync params: %v", err)
	}
	if params.Operation != "sync" || len(params.Tasks) != 2 {
		t.Errorf("params = %+v, want full sync", params)
	}
	if w.dirty.Load() {
		t.Error("dirty flag should be cleared after sync")
	}
}

func TestTreeWatcher_Disconnect(t *testing.T) {
	w := NewTreeWatcher(newSource())
	n := &captureNotifier{}
	w.Subscribe(n)
	w.Subscribe(n)
	w.Subscribe(&captureNotifier{})

	if got := w.Disconnect(n); got != 2 {
		t.Errorf("dropped %d, want 2", got)
	}
	if w.Subscribers() != 1 {
		t.Errorf("subscribers = %d", w.Subscribers())
	}
}

func TestTreeWatcher_UpdateAfterStop(t *testing.T) {
	w := NewTreeWatcher(newSource())
	w.Start()
	w.Stop()

	// Should not block or panic.
	for range 100 {
		w.OnTaskStateUpdate(engine.StateUpdate{TaskID: "c"})
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
