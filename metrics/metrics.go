package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initOnce sync.Once

	taskOps            metric.Int64Counter
	cascadeCompletions metric.Int64Counter
	cascadeFailures    metric.Int64Counter
	cascadeSkipped     metric.Int64Counter
	historyOps         metric.Int64Counter
	conflictsResolved  metric.Int64Counter
	gatewayDuration    metric.Float64Histogram
)

// InitMetrics creates the instruments. Safe to call more than once; call
// after InitMeterProvider. Record functions are no-ops until it runs.
func InitMetrics(ctx context.Context) error {
	var err error
	initOnce.Do(func() {
		m := Meter()
		if taskOps, err = m.Int64Counter("taskmaster_task_operations_total",
			metric.WithDescription("Direct task mutations by operation")); err != nil {
			return
		}
		if cascadeCompletions, err = m.Int64Counter("taskmaster_cascade_completions_total",
			metric.WithDescription("Ancestors auto-completed by the cascade")); err != nil {
			return
		}
		if cascadeFailures, err = m.Int64Counter("taskmaster_cascade_failures_total",
			metric.WithDescription("Cascade steps halted by a remote failure")); err != nil {
			return
		}
		if cascadeSkipped, err = m.Int64Counter("taskmaster_cascade_skipped_inflight_total",
			metric.WithDescription("Cascade triggers skipped because the ancestor was in flight")); err != nil {
			return
		}
		if historyOps, err = m.Int64Counter("taskmaster_history_operations_total",
			metric.WithDescription("Undo history operations (record, undo, redo)")); err != nil {
			return
		}
		if conflictsResolved, err = m.Int64Counter("taskmaster_conflicts_resolved_total",
			metric.WithDescription("Parent intervals expanded to fit a child")); err != nil {
			return
		}
		gatewayDuration, err = m.Float64Histogram("taskmaster_gateway_call_duration_seconds",
			metric.WithDescription("Persistence gateway call latency in seconds"))
	})
	return err
}

// TaskCountFunc reports (open, completed) task counts.
type TaskCountFunc func() (open, completed int64)

// InitMetricsWithTaskCount also registers the taskmaster_tasks gauge when
// taskCount is non-nil.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	gauge, err := m.Int64ObservableGauge("taskmaster_tasks", metric.WithDescription("Tasks in the current tree by state"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		open, completed := taskCount()
		o.ObserveInt64(gauge, open, metric.WithAttributes(AttrState.String("open")))
		o.ObserveInt64(gauge, completed, metric.WithAttributes(AttrState.String("completed")))
		return nil
	}, gauge)
	return err
}

func RecordTaskOp(ctx context.Context, op string) {
	if taskOps == nil {
		return
	}
	taskOps.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(op)))
}

func RecordCascadeCompletion(ctx context.Context) {
	if cascadeCompletions != nil {
		cascadeCompletions.Add(ctx, 1)
	}
}

func RecordCascadeFailure(ctx context.Context) {
	if cascadeFailures != nil {
		cascadeFailures.Add(ctx, 1)
	}
}

func RecordCascadeSkipped(ctx context.Context) {
	if cascadeSkipped != nil {
		cascadeSkipped.Add(ctx, 1)
	}
}

func RecordHistoryOp(ctx context.Context, op string) {
	if historyOps != nil {
		historyOps.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(op)))
	}
}

func RecordConflictResolved(ctx context.Context) {
	if conflictsResolved != nil {
		conflictsResolved.Add(ctx, 1)
	}
}

func RecordGatewayCall(ctx context.Context, call string, d time.Duration) {
	if gatewayDuration != nil {
		gatewayDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrCall.String(call)))
	}
}
