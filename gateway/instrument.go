package gateway

import (
	"context"
	"time"

	"github.com/ThunderHDs/taskmaster-sub001/metrics"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

// Instrumented records the latency of every call on the wrapped gateway.
type Instrumented struct {
	Gateway
}

func Instrument(g Gateway) *Instrumented {
	return &Instrumented{Gateway: g}
}

func observe(ctx context.Context, call string, start time.Time) {
	metrics.RecordGatewayCall(ctx, call, time.Since(start))
}

func (g *Instrumented) GetTask(ctx context.Context, id string) (task.Task, bool, error) {
	defer observe(ctx, "get", time.Now())
	return g.Gateway.GetTask(ctx, id)
}

func (g *Instrumented) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	defer observe(ctx, "create", time.Now())
	return g.Gateway.CreateTask(ctx, t)
}

func (g *Instrumented) UpdateTask(ctx context.Context, id string, patch task.Patch, hint *ConflictHint) (task.Task, error) {
	defer observe(ctx, "update", time.Now())
	return g.Gateway.UpdateTask(ctx, id, patch, hint)
}

func (g *Instrumented) DeleteTask(ctx context.Context, id string) error {
	defer observe(ctx, "delete", time.Now())
	return g.Gateway.DeleteTask(ctx, id)
}

func (g *Instrumented) ListTasks(ctx context.Context) ([]task.Task, error) {
	defer observe(ctx, "list", time.Now())
	return g.Gateway.ListTasks(ctx)
}

// Unwrap returns the underlying gateway, e.g. to reach its Watcher.
func (g *Instrumented) Unwrap() Gateway {
	return g.Gateway
}
