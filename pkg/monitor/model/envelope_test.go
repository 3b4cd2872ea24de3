package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvelope(t *testing.T) {
	timestamp := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	t.Run("should marshal events to the bare wire shape", func(t *testing.T) {
		envelope := EventEnvelope(Event{
			EventID:   "event-1",
			Timestamp: timestamp,
			Level:     ErrorLevel,
			Component: ComponentModelService,
			EventType: EventTypeException,
			Message:   "model call failed",
			Data:      map[string]any{"model": "gpt-4o", "attempt": float64(2)},
			Tags:      []string{"inference"},
			TraceID:   "trace-1",
			SpanID:    "span-1",
		})
		raw, err := json.Marshal(envelope)
		assert.NoError(t, err)

		var fields map[string]any
		assert.NoError(t, json.Unmarshal(raw, &fields))
		assert.NotContains(t, fields, "kind")
		assert.Equal(t, "event-1", fields["event_id"])
		assert.Equal(t, "error", fields["level"])
		assert.Equal(t, "model call failed", fields["message"])
	})

	t.Run("should round-trip an event through the wire shape", func(t *testing.T) {
		want := Event{
			EventID:   "event-2",
			Timestamp: timestamp,
			Level:     WarningLevel,
			Component: ComponentAgentCore,
			EventType: EventTypeValidation,
			Message:   "schema mismatch",
			Data:      map[string]any{"field": "temperature"},
			Tags:      []string{"config", "startup"},
			TraceID:   "trace-2",
			SpanID:    "span-2",
		}
		raw, err := json.Marshal(EventEnvelope(want))
		assert.NoError(t, err)

		var got Envelope
		assert.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, KindEvent, got.Kind)
		assert.Equal(t, want, *got.Event)
	})

	t.Run("should discriminate metric envelopes with a kind field", func(t *testing.T) {
		sample := MetricSample{
			Name:      "api.call.duration_ms",
			Value:     128.5,
			Unit:      "ms",
			Tags:      map[string]string{"endpoint": "/v1/chat"},
			Timestamp: timestamp,
		}
		raw, err := json.Marshal(MetricEnvelope(sample))
		assert.NoError(t, err)

		var fields map[string]any
		assert.NoError(t, json.Unmarshal(raw, &fields))
		assert.Equal(t, "metric", fields["kind"])

		var got Envelope
		assert.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, KindMetric, got.Kind)
		assert.Equal(t, sample, *got.Metric)
	})

	t.Run("should discriminate health envelopes with a kind field", func(t *testing.T) {
		status := HealthStatus{
			ServiceID:     "agent-1",
			ServiceName:   "agent",
			Status:        HealthStateDegraded,
			Message:       "queue backlog",
			UptimeSeconds: 360,
			Checks:        map[string]bool{"database": true, "broker": false},
			Timestamp:     timestamp,
		}
		raw, err := json.Marshal(HealthEnvelope(status))
		assert.NoError(t, err)

		var got Envelope
		assert.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, KindHealth, got.Kind)
		assert.Equal(t, status, *got.Health)
	})

	t.Run("should refuse to marshal an empty envelope", func(t *testing.T) {
		_, err := json.Marshal(Envelope{})
		assert.Error(t, err)
	})
}
