package service

import (
	"sync"
	"testing"
	"time"

	"github.com/agentforge/telemetry/pkg/clock"
	"github.com/agentforge/telemetry/pkg/event_bus"
	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type alertEventRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *alertEventRecorder) emit(event model.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *alertEventRecorder) snapshot() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestAlertRegistry(clk clock.Clock) (*AlertRegistry, *alertEventRecorder) {
	logger := zap.NewNop()
	bus := event_bus.NewTelemetryEventBus[model.AlertInstance](EventBus.New(), logger)
	recorder := &alertEventRecorder{}
	registry := NewAlertRegistry(clk, clock.NewUUIDSource(), bus, recorder.emit, logger)
	return registry, recorder
}

func slowRequestAlert() model.AlertConfig {
	return model.AlertConfig{
		Name:      "slow-requests",
		Component: model.ComponentAPIGateway,
		Condition: "request.duration_ms > 250",
		Severity:  model.WarningLevel,
		Enabled:   true,
	}
}

func durationSample(value float64) model.MetricSample {
	return model.MetricSample{
		Name:      "request.duration_ms",
		Value:     value,
		Unit:      "ms",
		Timestamp: time.Now().UTC(),
	}
}

func TestAlertRegistry(t *testing.T) {
	t.Run("should fill in defaults on create", func(t *testing.T) {
		registry, _ := newTestAlertRegistry(newManualClock())
		created, err := registry.Create(model.AlertConfig{
			Name:      "minimal",
			Condition: "queue.depth >= 100",
			Enabled:   true,
		})
		assert.NoError(t, err)
		assert.NotEmpty(t, created.AlertID)
		assert.Equal(t, model.WarningLevel, created.Severity)
		assert.Equal(t, defaultCooldownSeconds, created.CooldownSeconds)
	})

	t.Run("should reject malformed conditions", func(t *testing.T) {
		registry, _ := newTestAlertRegistry(newManualClock())
		for _, condition := range []string{
			"",
			"queue.depth",
			"queue.depth >",
			"queue.depth ~ 100",
			"queue.depth > fast",
			"queue.depth > 100 extra",
		} {
			_, err := registry.Create(model.AlertConfig{Name: "bad", Condition: condition, Enabled: true})
			assert.Error(t, err, "condition %q should be rejected", condition)
		}
	})

	t.Run("should reject a duplicate alert id", func(t *testing.T) {
		registry, _ := newTestAlertRegistry(newManualClock())
		alert := slowRequestAlert()
		alert.AlertID = "fixed-id"
		_, err := registry.Create(alert)
		assert.NoError(t, err)
		_, err = registry.Create(alert)
		assert.Error(t, err)
	})

	t.Run("should trigger an instance and synthesize an event", func(t *testing.T) {
		registry, recorder := newTestAlertRegistry(newManualClock())
		created, err := registry.Create(slowRequestAlert())
		assert.NoError(t, err)

		registry.Evaluate(durationSample(312))

		instances := registry.Instances()
		assert.Equal(t, 1, len(instances))
		assert.Equal(t, created.AlertID, instances[0].AlertID)
		assert.Equal(t, model.AlertStatusActive, instances[0].Status)
		assert.Equal(t, 312.0, instances[0].Value)

		events := recorder.snapshot()
		assert.Equal(t, 1, len(events))
		assert.Equal(t, model.WarningLevel, events[0].Level)
		assert.Equal(t, model.EventTypeAlert, events[0].EventType)
		assert.Equal(t, created.AlertID, events[0].Data["alert_id"])
	})

	t.Run("should not trigger below the threshold or for other metrics", func(t *testing.T) {
		registry, _ := newTestAlertRegistry(newManualClock())
		_, err := registry.Create(slowRequestAlert())
		assert.NoError(t, err)

		registry.Evaluate(durationSample(250))
		registry.Evaluate(model.MetricSample{Name: "queue.depth", Value: 10000, Timestamp: time.Now().UTC()})
		assert.Empty(t, registry.Instances())
	})

	t.Run("should respect the cooldown between firings", func(t *testing.T) {
		clk := newManualClock()
		registry, _ := newTestAlertRegistry(clk)
		alert := slowRequestAlert()
		alert.CooldownSeconds = 60
		_, err := registry.Create(alert)
		assert.NoError(t, err)

		registry.Evaluate(durationSample(300))
		registry.Evaluate(durationSample(400))
		assert.Equal(t, 1, len(registry.Instances()), "second firing inside the cooldown is skipped")

		clk.Advance(61 * time.Second)
		registry.Evaluate(durationSample(500))
		assert.Equal(t, 2, len(registry.Instances()))
	})

	t.Run("should skip disabled alerts", func(t *testing.T) {
		registry, _ := newTestAlertRegistry(newManualClock())
		alert := slowRequestAlert()
		alert.Enabled = false
		_, err := registry.Create(alert)
		assert.NoError(t, err)

		registry.Evaluate(durationSample(999))
		assert.Empty(t, registry.Instances())
	})

	t.Run("should apply updates and re-validate the condition", func(t *testing.T) {
		registry, _ := newTestAlertRegistry(newManualClock())
		created, err := registry.Create(slowRequestAlert())
		assert.NoError(t, err)

		updated, err := registry.Update(created.AlertID, map[string]any{
			"condition":        "request.duration_ms > 500",
			"severity":         "error",
			"enabled":          false,
			"cooldown_seconds": 120,
		})
		assert.NoError(t, err)
		assert.Equal(t, "request.duration_ms > 500", updated.Condition)
		assert.Equal(t, model.ErrorLevel, updated.Severity)
		assert.False(t, updated.Enabled)
		assert.Equal(t, 120, updated.CooldownSeconds)

		_, err = registry.Update(created.AlertID, map[string]any{"condition": "broken"})
		assert.Error(t, err)
		_, err = registry.Update("no-such-alert", map[string]any{"enabled": true})
		assert.ErrorIs(t, err, ErrAlertNotFound)
	})

	t.Run("should walk an instance through acknowledge and resolve", func(t *testing.T) {
		registry, _ := newTestAlertRegistry(newManualClock())
		_, err := registry.Create(slowRequestAlert())
		assert.NoError(t, err)
		registry.Evaluate(durationSample(300))
		instance := registry.Instances()[0]

		acked, err := registry.Acknowledge(instance.InstanceID, "oncall@example.com")
		assert.NoError(t, err)
		assert.Equal(t, model.AlertStatusAcknowledged, acked.Status)
		assert.Equal(t, "oncall@example.com", acked.AcknowledgedBy)
		assert.NotNil(t, acked.AcknowledgedAt)

		resolved, err := registry.Resolve(instance.InstanceID, "gateway scaled up")
		assert.NoError(t, err)
		assert.Equal(t, model.AlertStatusResolved, resolved.Status)
		assert.Equal(t, "gateway scaled up", resolved.ResolutionMessage)
		assert.NotNil(t, resolved.ResolvedAt)

		_, err = registry.Acknowledge("no-such-instance", "nobody")
		assert.ErrorIs(t, err, ErrInstanceNotFound)
	})

	t.Run("should delete alerts and their cooldown state", func(t *testing.T) {
		registry, _ := newTestAlertRegistry(newManualClock())
		created, err := registry.Create(slowRequestAlert())
		assert.NoError(t, err)

		assert.True(t, registry.Delete(created.AlertID))
		assert.False(t, registry.Delete(created.AlertID))
		assert.Empty(t, registry.List())

		registry.Evaluate(durationSample(999))
		assert.Empty(t, registry.Instances())
	})
}
