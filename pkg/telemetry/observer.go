package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// Observer feeds engine callbacks into metrics, spans and debug logs.
type Observer struct {
	command string
	metrics *Metrics
	tracer  *Tracer
	logger  *Logger
}

var _ engine.Observer = (*Observer)(nil)

type startedAtKey struct{}

// NewObserver returns an observer labelling everything with command.
func NewObserver(command string, tel *Telemetry) *Observer {
	return &Observer{
		command: command,
		metrics: tel.Metrics,
		tracer:  tel.Tracer,
		logger:  tel.Logger.NewComponentLogger("observer"),
	}
}

func withStart(ctx context.Context) context.Context {
	return context.WithValue(ctx, startedAtKey{}, time.Now())
}

func elapsed(ctx context.Context) time.Duration {
	if t, ok := ctx.Value(startedAtKey{}).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}

// ExecutionStarted implements engine.Observer.
func (o *Observer) ExecutionStarted(ctx context.Context, id engine.ExecutionID, blocks []string) context.Context {
	o.metrics.RecordExecutionStarted(o.command)
	ctx, _ = o.tracer.StartExecutionSpan(ctx, id.String(), blocks)
	return withStart(ctx)
}

// ExecutionFinished implements engine.Observer.
func (o *Observer) ExecutionFinished(ctx context.Context, outcome *engine.ExecutionOutcome, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	state := "error"
	if err == nil && outcome != nil {
		state = string(outcome.State)
	}
	o.metrics.RecordExecutionCompleted(o.command, state, elapsed(ctx))
	span.SetAttributes(AttrExecState.String(state))

	switch {
	case err != nil:
		o.metrics.RecordError(string(engine.ClassOf(err)), engine.CodeOf(err))
		RecordError(span, err)
	case outcome != nil && !outcome.State.IsSuccess():
		span.SetStatus(codes.Error, state)
	default:
		RecordSuccess(span)
	}
}

// BlockStarted implements engine.Observer.
func (o *Observer) BlockStarted(ctx context.Context, _ engine.ExecutionID, block string) context.Context {
	ctx, _ = o.tracer.StartBlockSpan(ctx, block)
	return withStart(ctx)
}

// BlockFinished implements engine.Observer.
func (o *Observer) BlockFinished(ctx context.Context, block string, outcome *engine.CmdBlockOutcome, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if err != nil {
		o.metrics.RecordBlock(block, "error", elapsed(ctx), 0)
		RecordError(span, err)
		return
	}
	if outcome != nil {
		o.metrics.RecordBlock(block, string(outcome.State()), elapsed(ctx), outcome.ProgressUpdates)
		span.SetAttributes(AttrItemsSkipped.Int(len(outcome.Stream.ItemIDsSkipped)))
	}
	RecordSuccess(span)
}

// ItemStarted implements engine.Observer.
func (o *Observer) ItemStarted(ctx context.Context, block string, id engine.ItemID) context.Context {
	ctx, _ = o.tracer.StartItemSpan(ctx, block, string(id))
	return withStart(ctx)
}

// ItemFinished implements engine.Observer.
func (o *Observer) ItemFinished(ctx context.Context, block string, id engine.ItemID, status engine.ItemStatus, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	o.metrics.RecordItem(block, string(status), elapsed(ctx))
	span.SetAttributes(AttrItemStatus.String(string(status)))
	if err != nil {
		class, code := string(engine.ClassOf(err)), engine.CodeOf(err)
		o.metrics.RecordError(class, code)
		span.SetAttributes(AttrErrorClass.String(class), AttrErrorCode.String(code))
		RecordError(span, err)
		return
	}
	RecordSuccess(span)
}

// ItemSkipped implements engine.Observer.
func (o *Observer) ItemSkipped(ctx context.Context, block string, id engine.ItemID) {
	o.metrics.RecordItem(block, string(engine.ItemStatusSkipped), 0)
	trace.SpanFromContext(ctx).AddEvent("item skipped", trace.WithAttributes(
		AttrItemID.String(string(id)),
		attribute.String("block.name", block),
	))
}

// Interrupted implements engine.Observer.
func (o *Observer) Interrupted(ctx context.Context, id engine.ExecutionID) {
	o.metrics.RecordInterrupt()
	o.logger.WithExecutionID(id.String()).Debug("Interrupt observed")
	trace.SpanFromContext(ctx).AddEvent("interrupted")
}
