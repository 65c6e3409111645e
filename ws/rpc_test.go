package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/ThunderHDs/taskmaster-sub001/conflict"
	"github.com/ThunderHDs/taskmaster-sub001/engine"
	"github.com/ThunderHDs/taskmaster-sub001/gateway/file"
	"github.com/ThunderHDs/taskmaster-sub001/rpc"
	"github.com/ThunderHDs/taskmaster-sub001/task"
	"github.com/ThunderHDs/taskmaster-sub001/watch"
)

const testToken = "test-token"

// notificationRecorder collects server notifications on the client side.
type notificationRecorder struct {
	mu     sync.Mutex
	byName map[string][]json.RawMessage
}

func (r *notificationRecorder) Handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if !req.Notif || req.Params == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[req.Method] = append(r.byName[req.Method], *req.Params)
}

func (r *notificationRecorder) get(method string) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]json.RawMessage(nil), r.byName[method]...)
}

type testEnv struct {
	t       *testing.T
	session *engine.Session
	client  *jsonrpc2.Conn
	notifs  *notificationRecorder
	ctx     context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := file.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	s := engine.New(store, engine.WithSyncCascade())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	h := NewRPCHandler(testToken, "test", true, s)
	server := httptest.NewServer(h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		cancel()
		server.Close()
		t.Fatalf("failed to connect: %v", err)
	}

	notifs := &notificationRecorder{byName: make(map[string][]json.RawMessage)}
	client := jsonrpc2.NewConn(ctx, newWebSocketStream(conn), notifs)

	t.Cleanup(func() {
		client.Close()
		cancel()
		server.Close()
		h.Stop()
		s.Close()
	})

	return &testEnv{t: t, session: s, client: client, notifs: notifs, ctx: ctx}
}

func (e *testEnv) call(method string, params, result any) error {
	return e.client.Call(e.ctx, method, params, result)
}

func (e *testEnv) auth() {
	e.t.Helper()
	var res rpc.AuthResult
	if err := e.call("auth", rpc.AuthParams{Token: testToken}, &res); err != nil {
		e.t.Fatalf("auth failed: %v", err)
	}
}

func (e *testEnv) create(params rpc.TaskCreateParams) task.Task {
	e.t.Helper()
	var out task.Task
	if err := e.call("task.create", params, &out); err != nil {
		e.t.Fatalf("task.create: %v", err)
	}
	return out
}

func rpcCode(err error) int64 {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return 0
}

// --- auth ---

func TestRPC_FirstRequestMustBeAuth(t *testing.T) {
	env := newTestEnv(t)

	err := env.call("task.list", nil, nil)
	if rpcCode(err) != jsonrpc2.CodeInvalidRequest {
		t.Errorf("err = %v, want invalid request", err)
	}
}

func TestRPC_InvalidToken(t *testing.T) {
	env := newTestEnv(t)

	err := env.call("auth", rpc.AuthParams{Token: "wrong"}, nil)
	if rpcCode(err) != jsonrpc2.CodeInvalidRequest {
		t.Errorf("err = %v, want invalid request", err)
	}
}

// --- task namespace ---

func TestRPC_CreateCompleteCascade(t *testing.T) {
	env := newTestEnv(t)
	env.auth()

	parent := env.create(rpc.TaskCreateParams{Title: "Release"})
	child := env.create(rpc.TaskCreateParams{Title: "Write notes", ParentID: parent.ID})

	var updated task.Task
	if err := env.call("task.set_completed", rpc.TaskSetCompletedParams{ID: child.ID, Completed: ptr(true)}, &updated); err != nil {
		t.Fatalf("task.set_completed: %v", err)
	}
	if !updated.Completed {
		t.Error("child not completed")
	}

	var got task.Task
	if err := env.call("task.get", rpc.TaskGetParams{ID: parent.ID}, &got); err != nil {
		t.Fatalf("task.get: %v", err)
	}
	if !got.Completed {
		t.Error("parent not completed by cascade")
	}

	var list rpc.TaskListResult
	if err := env.call("task.list", nil, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tasks) != 2 {
		t.Errorf("listed %d tasks, want 2", len(list.Tasks))
	}
}

func TestRPC_SetCompletedRejectsNonBoolean(t *testing.T) {
	env := newTestEnv(t)
	env.auth()
	tk := env.create(rpc.TaskCreateParams{Title: "Task"})

	for _, raw := range []string{`"yes"`, `1`, `null`} {
		params := json.RawMessage(`{"id":"` + tk.ID + `","completed":` + raw + `}`)
		err := env.call("task.set_completed", params, nil)
		if rpcCode(err) != jsonrpc2.CodeInvalidParams {
			t.Errorf("completed=%s: err = %v, want invalid params", raw, err)
		}
	}
	if got, _ := env.session.Get(tk.ID); got.Completed {
		t.Error("task completed by invalid request")
	}
}

func TestRPC_NotFoundIsInvalidParams(t *testing.T) {
	env := newTestEnv(t)
	env.auth()

	err := env.call("task.set_completed", rpc.TaskSetCompletedParams{ID: "ghost", Completed: ptr(true)}, nil)
	if rpcCode(err) != jsonrpc2.CodeInvalidParams || !strings.Contains(err.Error(), "task not found") {
		t.Errorf("err = %v", err)
	}
}

func TestRPC_SetIntervalAndCheckConflict(t *testing.T) {
	env := newTestEnv(t)
	env.auth()
	parent := env.create(rpc.TaskCreateParams{Title: "Sprint", DateRange: rpc.DateRange{Start: "2026-03-01", End: "2026-03-14"}})
	child := env.create(rpc.TaskCreateParams{Title: "Demo", ParentID: parent.ID, DateRange: rpc.DateRange{Start: "2026-03-10", End: "2026-03-12"}})

	var res conflict.Result
	err := env.call("task.check_conflict", rpc.TaskCheckConflictParams{
		ParentID: parent.ID, Title: "Demo", DateRange: rpc.DateRange{Start: "2026-03-10", End: "2026-03-20"},
	}, &res)
	if err != nil {
		t.Fatalf("task.check_conflict: %v", err)
	}
	if !res.HasConflict || res.SuggestedEnd == nil || res.SuggestedStart != nil {
		t.Errorf("result = %+v", res)
	}

	var updated task.Task
	if err := env.call("task.set_interval", rpc.TaskSetIntervalParams{ID: child.ID, DateRange: rpc.DateRange{Start: "2026-03-10", End: "2026-03-20"}}, &updated); err != nil {
		t.Fatalf("task.set_interval: %v", err)
	}
	p, _ := env.session.Get(parent.ID)
	if !p.Interval.End.Equal(*task.Date(2026, time.March, 20)) {
		t.Errorf("parent end = %v, want expanded to Mar 20", p.Interval.End)
	}

	err = env.call("task.set_interval", rpc.TaskSetIntervalParams{ID: child.ID, DateRange: rpc.DateRange{Start: "2026-03-20", End: "2026-03-01"}}, nil)
	if rpcCode(err) != jsonrpc2.CodeInvalidParams {
		t.Errorf("inverted range err = %v", err)
	}
}

// --- history namespace ---

func TestRPC_UndoRedo(t *testing.T) {
	env := newTestEnv(t)
	env.auth()
	tk := env.create(rpc.TaskCreateParams{Title: "Task"})

	if err := env.call("task.set_completed", rpc.TaskSetCompletedParams{ID: tk.ID, Completed: ptr(true)}, nil); err != nil {
		t.Fatal(err)
	}

	var res rpc.HistoryResult
	if err := env.call("history.undo", nil, &res); err != nil {
		t.Fatalf("history.undo: %v", err)
	}
	if res.Action == nil || res.Action.Description != `Completed "Task"` {
		t.Errorf("undo action = %+v", res.Action)
	}
	if !res.State.CanRedo {
		t.Error("expected redo available")
	}
	if got, _ := env.session.Get(tk.ID); got.Completed {
		t.Error("undo did not reopen task")
	}

	res = rpc.HistoryResult{}
	if err := env.call("history.redo", nil, &res); err != nil {
		t.Fatalf("history.redo: %v", err)
	}
	if got, _ := env.session.Get(tk.ID); !got.Completed {
		t.Error("redo did not complete task")
	}

	var state rpc.HistoryResult
	if err := env.call("history.state", nil, &state); err != nil {
		t.Fatal(err)
	}
	if state.State.UndoDepth != 2 {
		t.Errorf("undo depth = %d, want 2", state.State.UndoDepth)
	}
}

// --- tree namespace ---

func TestRPC_TreeSubscribeNotifies(t *testing.T) {
	env := newTestEnv(t)
	env.auth()
	tk := env.create(rpc.TaskCreateParams{Title: "Task"})

	var sub rpc.TreeSubscribeResult
	if err := env.call("tree.subscribe", nil, &sub); err != nil {
		t.Fatalf("tree.subscribe: %v", err)
	}
	if sub.ID == "" || len(sub.Tasks) != 1 {
		t.Fatalf("subscribe result = %+v", sub)
	}

	if err := env.call("task.set_completed", rpc.TaskSetCompletedParams{ID: tk.ID, Completed: ptr(true)}, nil); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(env.notifs.get(watch.MethodTreeChanged)) >= 1 })
	var params watch.TreeChangedParams
	json.Unmarshal(env.notifs.get(watch.MethodTreeChanged)[0], &params)
	if params.Operation != "update" || params.Task == nil || !params.Task.Completed {
		t.Errorf("tree.changed = %+v", params)
	}

	waitFor(t, func() bool { return len(env.notifs.get(watch.MethodHistoryToast)) >= 1 })

	if err := env.call("tree.unsubscribe", rpc.UnsubscribeParams{ID: sub.ID}, nil); err != nil {
		t.Fatalf("tree.unsubscribe: %v", err)
	}
	if err := env.call("tree.unsubscribe", rpc.UnsubscribeParams{}, nil); rpcCode(err) != jsonrpc2.CodeInvalidParams {
		t.Errorf("missing id err = %v", err)
	}
}

func TestRPC_MethodNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.auth()

	if err := env.call("task.explode", nil, nil); rpcCode(err) != jsonrpc2.CodeMethodNotFound {
		t.Errorf("err = %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

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
