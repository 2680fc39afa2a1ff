// Package otelobs bridges dispatcher and scheduler observations into
// OpenTelemetry spans and metrics. Nothing in the core packages imports
// OpenTelemetry directly; they expose observer hooks and this package
// subscribes to them.
package otelobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightport/boardbridge/sched"
)

// DispatchObserver records one span per dispatched tool call or
// resource read. It implements dispatch.Observer.
type DispatchObserver struct {
	tracer trace.Tracer

	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewDispatchObserver creates a DispatchObserver bound to the provided
// meter and tracer.
func NewDispatchObserver(meter metric.Meter, tracer trace.Tracer) (*DispatchObserver, error) {
	calls, err := meter.Int64Counter("boardbridge.dispatch.calls",
		metric.WithDescription("Number of dispatched tool calls and resource reads"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("boardbridge.dispatch.failures",
		metric.WithDescription("Number of failed dispatches"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("boardbridge.dispatch.latency",
		metric.WithDescription("Dispatch latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &DispatchObserver{tracer: tracer, calls: calls, failures: failures, latency: latency}, nil
}

// CallStarted opens a span for the call and returns the span context.
func (o *DispatchObserver) CallStarted(ctx context.Context, kind, name, requestID string) context.Context {
	spanCtx, _ := o.tracer.Start(ctx, kind+":"+name,
		trace.WithAttributes(
			attribute.String("boardbridge.kind", kind),
			attribute.String("boardbridge.name", name),
			attribute.String("boardbridge.request_id", requestID),
		),
	)
	return spanCtx
}

// CallFinished closes the call span and records metrics.
func (o *DispatchObserver) CallFinished(ctx context.Context, kind, name, requestID string, elapsed time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("name", name),
	)
	o.calls.Add(ctx, 1, attrs)
	o.latency.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		o.failures.Add(ctx, 1, attrs)
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// SchedulerMetrics translates scheduler events into counters and a
// queue-depth gauge-like histogram. Subscribe with Handle.
type SchedulerMetrics struct {
	starts   metric.Int64Counter
	retries  metric.Int64Counter
	drops    metric.Int64Counter
	depleted metric.Int64Counter
	depth    metric.Int64Histogram
}

// NewSchedulerMetrics creates the scheduler instruments on meter.
func NewSchedulerMetrics(meter metric.Meter) (*SchedulerMetrics, error) {
	starts, err := meter.Int64Counter("boardbridge.sched.jobs.started",
		metric.WithDescription("Number of jobs admitted by the scheduler"),
	)
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("boardbridge.sched.retries",
		metric.WithDescription("Number of quota-exceeded retries scheduled"),
	)
	if err != nil {
		return nil, err
	}
	drops, err := meter.Int64Counter("boardbridge.sched.jobs.dropped",
		metric.WithDescription("Number of jobs discarded without running"),
	)
	if err != nil {
		return nil, err
	}
	depleted, err := meter.Int64Counter("boardbridge.sched.reservoir.depleted",
		metric.WithDescription("Number of windows in which the token reservoir emptied"),
	)
	if err != nil {
		return nil, err
	}
	depth, err := meter.Int64Histogram("boardbridge.sched.queue.depth",
		metric.WithDescription("Queue depth observed at job admission"),
	)
	if err != nil {
		return nil, err
	}
	return &SchedulerMetrics{starts: starts, retries: retries, drops: drops, depleted: depleted, depth: depth}, nil
}

// Handle processes one scheduler event. It implements sched.EventHandler
// semantics.
func (m *SchedulerMetrics) Handle(e sched.Event) {
	ctx := context.Background()
	switch e.Kind {
	case sched.EventJobStarted:
		m.starts.Add(ctx, 1, metric.WithAttributes(attribute.Int("priority", int(e.Priority))))
		m.depth.Record(ctx, int64(e.QueueDepth))
	case sched.EventRetryScheduled:
		m.retries.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", e.Attempt)))
	case sched.EventJobDropped:
		m.drops.Add(ctx, 1)
	case sched.EventReservoirDepleted:
		m.depleted.Add(ctx, 1)
	}
}
