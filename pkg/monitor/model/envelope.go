package model

import (
	"encoding/json"
	"fmt"
)

type EnvelopeKind string

const (
	KindEvent  EnvelopeKind = "event"
	KindMetric EnvelopeKind = "metric"
	KindHealth EnvelopeKind = "health"
)

// Envelope is one item of a batch: exactly one of Event, Metric, or
// Health is set, discriminated by Kind. Events marshal to the bare wire
// shape (no discriminator); metrics and health reports carry an
// explicit "kind" field.
type Envelope struct {
	Kind   EnvelopeKind  `json:"-"`
	Event  *Event        `json:"-"`
	Metric *MetricSample `json:"-"`
	Health *HealthStatus `json:"-"`
}

func EventEnvelope(event Event) Envelope {
	return Envelope{Kind: KindEvent, Event: &event}
}

func MetricEnvelope(sample MetricSample) Envelope {
	return Envelope{Kind: KindMetric, Metric: &sample}
}

func HealthEnvelope(status HealthStatus) Envelope {
	return Envelope{Kind: KindHealth, Health: &status}
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindEvent:
		return json.Marshal(e.Event)
	case KindMetric:
		return json.Marshal(struct {
			Kind EnvelopeKind `json:"kind"`
			*MetricSample
		}{e.Kind, e.Metric})
	case KindHealth:
		return json.Marshal(struct {
			Kind EnvelopeKind `json:"kind"`
			*HealthStatus
		}{e.Kind, e.Health})
	default:
		return nil, fmt.Errorf("cannot marshal envelope of unknown kind %q", e.Kind)
	}
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var probe struct {
		Kind EnvelopeKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to probe envelope kind: %w", err)
	}
	switch probe.Kind {
	case KindMetric:
		var sample MetricSample
		if err := json.Unmarshal(data, &sample); err != nil {
			return fmt.Errorf("failed to unmarshal metric envelope: %w", err)
		}
		*e = MetricEnvelope(sample)
	case KindHealth:
		var status HealthStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return fmt.Errorf("failed to unmarshal health envelope: %w", err)
		}
		*e = HealthEnvelope(status)
	default:
		// Events are the bare wire shape and carry no kind field.
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("failed to unmarshal event envelope: %w", err)
		}
		*e = EventEnvelope(event)
	}
	return nil
}
