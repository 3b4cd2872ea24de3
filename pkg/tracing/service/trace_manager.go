package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentforge/telemetry/pkg/clock"
	"github.com/agentforge/telemetry/pkg/monitor/model"
	"go.uber.org/zap"
)

type activeSpanKey struct{}
type remoteParentKey struct{}

// EmitFunc hands a span's start/terminal events to the batching engine.
type EmitFunc func(envelope model.Envelope)

type SpanOption func(*spanOptions)

type spanOptions struct {
	parent     *model.SpanRef
	attributes map[string]any
	tags       []string
}

// WithParent overrides the parent that would otherwise come from the
// context. Used when the caller tracks linkage itself.
func WithParent(traceID string, spanID string) SpanOption {
	return func(o *spanOptions) {
		o.parent = &model.SpanRef{TraceID: traceID, SpanID: spanID}
	}
}

func WithAttributes(attributes map[string]any) SpanOption {
	return func(o *spanOptions) {
		o.attributes = attributes
	}
}

func WithTags(tags ...string) SpanOption {
	return func(o *spanOptions) {
		o.tags = tags
	}
}

// TraceManager maintains the active span per logical execution context.
// The context chain is the span stack: StartSpan returns a derived
// context carrying the new span, so concurrent tasks never observe each
// other's active span.
type TraceManager interface {
	StartSpan(ctx context.Context, name string, component model.Component, opts ...SpanOption) (context.Context, *model.Span)
	EndSpan(span *model.Span, status model.SpanStatus, data map[string]any, errorMessage string)
	// WithSpan opens a span, runs fn, and guarantees the span is closed
	// on every exit path; an error return closes it with error status.
	WithSpan(ctx context.Context, name string, component model.Component, fn func(ctx context.Context) error) error
}

type TraceManagerImpl struct {
	mu   sync.Mutex
	open map[string]*model.Span

	clk    clock.Clock
	ids    clock.IDSource
	emit   EmitFunc
	logger *zap.Logger
}

func NewTraceManagerImpl(
	clk clock.Clock,
	ids clock.IDSource,
	emit EmitFunc,
	logger *zap.Logger,
) *TraceManagerImpl {
	return &TraceManagerImpl{
		open:   make(map[string]*model.Span),
		clk:    clk,
		ids:    ids,
		emit:   emit,
		logger: logger,
	}
}

func (t *TraceManagerImpl) StartSpan(
	ctx context.Context,
	name string,
	component model.Component,
	opts ...SpanOption,
) (context.Context, *model.Span) {
	var options spanOptions
	for _, opt := range opts {
		opt(&options)
	}

	parent := options.parent
	if parent == nil {
		if active := ActiveSpan(ctx); active != nil {
			parent = &model.SpanRef{TraceID: active.TraceID, SpanID: active.SpanID}
		} else if remote := remoteParent(ctx); remote != nil {
			parent = remote
		}
	}

	span := &model.Span{
		SpanID:     t.ids.NewSpanID(),
		Name:       name,
		Component:  component,
		StartTime:  t.clk.Now(),
		Status:     model.SpanStatusOpen,
		Attributes: options.attributes,
	}
	if parent != nil {
		span.TraceID = parent.TraceID
		span.ParentSpanID = parent.SpanID
	} else {
		span.TraceID = t.ids.NewTraceID()
	}

	t.mu.Lock()
	t.open[span.SpanID] = span
	t.mu.Unlock()

	t.emit(model.EventEnvelope(model.Event{
		EventID:   t.ids.NewEventID(),
		Timestamp: span.StartTime,
		Level:     model.DebugLevel,
		Component: component,
		EventType: model.EventTypeTrace,
		Message:   "Start span: " + name,
		Data: map[string]any{
			"span_id":        span.SpanID,
			"parent_span_id": span.ParentSpanID,
		},
		Tags:    options.tags,
		TraceID: span.TraceID,
		SpanID:  span.SpanID,
	}))

	return context.WithValue(ctx, activeSpanKey{}, span), span
}

func (t *TraceManagerImpl) EndSpan(
	span *model.Span,
	status model.SpanStatus,
	data map[string]any,
	errorMessage string,
) {
	if span == nil {
		return
	}
	t.mu.Lock()
	if _, ok := t.open[span.SpanID]; !ok {
		t.mu.Unlock()
		// Either already ended (idempotent no-op) or never started here.
		t.logger.Warn("Ignoring end of unknown or already ended span",
			zap.String("span_id", span.SpanID),
			zap.String("name", span.Name),
		)
		return
	}
	delete(t.open, span.SpanID)
	parentClosed := false
	if span.ParentSpanID != "" {
		_, parentOpen := t.open[span.ParentSpanID]
		parentClosed = !parentOpen
	}
	t.mu.Unlock()

	if parentClosed {
		// Well-formed traces close children before parents. Tolerated,
		// but worth surfacing.
		t.logger.Warn("Span outlived its parent",
			zap.String("span_id", span.SpanID),
			zap.String("parent_span_id", span.ParentSpanID),
		)
	}

	endTime := t.clk.Now()
	span.EndTime = &endTime
	span.Status = status
	span.DurationMs = float64(endTime.Sub(span.StartTime).Microseconds()) / 1000.0
	if errorMessage != "" {
		span.ErrorMessage = errorMessage
	}
	if len(data) > 0 {
		if span.Attributes == nil {
			span.Attributes = make(map[string]any, len(data))
		}
		for key, value := range data {
			span.Attributes[key] = value
		}
	}

	level := model.InfoLevel
	if status == model.SpanStatusError {
		level = model.ErrorLevel
	}
	eventData := map[string]any{
		"span_id":        span.SpanID,
		"parent_span_id": span.ParentSpanID,
		"duration_ms":    span.DurationMs,
		"status":         string(status),
	}
	if span.ErrorMessage != "" {
		eventData["error_message"] = span.ErrorMessage
	}
	for key, value := range span.Attributes {
		eventData[key] = value
	}

	t.emit(model.EventEnvelope(model.Event{
		EventID:   t.ids.NewEventID(),
		Timestamp: endTime,
		Level:     level,
		Component: span.Component,
		EventType: model.EventTypeTrace,
		Message:   "End span: " + span.Name,
		Data:      eventData,
		TraceID:   span.TraceID,
		SpanID:    span.SpanID,
	}))
}

func (t *TraceManagerImpl) WithSpan(
	ctx context.Context,
	name string,
	component model.Component,
	fn func(ctx context.Context) error,
) (err error) {
	spanCtx, span := t.StartSpan(ctx, name, component)
	defer func() {
		if r := recover(); r != nil {
			t.EndSpan(span, model.SpanStatusError, nil, fmt.Sprint(r))
			panic(r)
		}
		if err != nil {
			t.EndSpan(span, model.SpanStatusError, nil, err.Error())
			return
		}
		t.EndSpan(span, model.SpanStatusOK, nil, "")
	}()
	return fn(spanCtx)
}

// ActiveSpan returns the span carried by ctx, nil if none.
func ActiveSpan(ctx context.Context) *model.Span {
	span, _ := ctx.Value(activeSpanKey{}).(*model.Span)
	return span
}

func remoteParent(ctx context.Context) *model.SpanRef {
	ref, _ := ctx.Value(remoteParentKey{}).(*model.SpanRef)
	return ref
}
