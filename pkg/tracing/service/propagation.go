package service

import (
	"context"

	"github.com/agentforge/telemetry/pkg/monitor/model"
)

// Header pair carried in outgoing request metadata. Their absence on an
// inbound request means a new root trace starts on the receiving side.
const (
	TraceIDHeader      = "X-Telemetry-Trace-Id"
	ParentSpanIDHeader = "X-Telemetry-Parent-Span-Id"
)

// Inject writes the active span's identity into an outgoing carrier.
// No-op when ctx carries no span.
func Inject(ctx context.Context, carrier map[string]string) {
	span := ActiveSpan(ctx)
	if span == nil {
		return
	}
	carrier[TraceIDHeader] = span.TraceID
	carrier[ParentSpanIDHeader] = span.SpanID
}

// Extract reads the propagation pair from an inbound carrier. ok is
// false when either token is missing.
func Extract(carrier map[string]string) (model.SpanRef, bool) {
	traceID := carrier[TraceIDHeader]
	spanID := carrier[ParentSpanIDHeader]
	if traceID == "" || spanID == "" {
		return model.SpanRef{}, false
	}
	return model.SpanRef{TraceID: traceID, SpanID: spanID}, true
}

// WithRemoteParent attaches an extracted propagation token to ctx so
// the next StartSpan links to the remote caller's span.
func WithRemoteParent(ctx context.Context, ref model.SpanRef) context.Context {
	refCopy := ref
	return context.WithValue(ctx, remoteParentKey{}, &refCopy)
}
