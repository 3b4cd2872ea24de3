package model

import "time"

type SpanStatus string

const (
	SpanStatusOpen  SpanStatus = "open"
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)

// Span is a timed unit of work within a trace. It is mutable while open
// and exclusively owned by the starting execution context; EndSpan
// finalizes it exactly once, after which it is emitted as a terminal
// event and must not be touched again.
type Span struct {
	SpanID       string         `json:"span_id"`
	TraceID      string         `json:"trace_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	Component    Component      `json:"component"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Status       SpanStatus     `json:"status"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMs   float64        `json:"duration_ms,omitempty"`
}

// SpanRef is the cross-process propagation token: just enough identity
// to reconstruct parent linkage on the receiving side.
type SpanRef struct {
	TraceID string
	SpanID  string
}
