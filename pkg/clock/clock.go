package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock provides the current time for components that need to be tested
// against a controllable time source.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func NewSystemClock() SystemClock {
	return SystemClock{}
}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDSource generates the identifiers used across the telemetry pipeline.
// Trace and span ids are plain strings so they can carry remote ids
// extracted from inbound request metadata unchanged.
type IDSource interface {
	NewEventID() string
	NewTraceID() string
	NewSpanID() string
}

type UUIDSource struct{}

func NewUUIDSource() UUIDSource {
	return UUIDSource{}
}

func (UUIDSource) NewEventID() string {
	return uuid.NewString()
}

func (UUIDSource) NewTraceID() string {
	return uuid.NewString()
}

func (UUIDSource) NewSpanID() string {
	return uuid.NewString()
}
