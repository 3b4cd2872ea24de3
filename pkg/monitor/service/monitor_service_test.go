package service

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/agentforge/telemetry/pkg/monitor/config"
	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ServiceName = "test-service"
	// A long interval keeps the timer out of the way; tests drive
	// flushing through batch size, Flush, and Shutdown.
	cfg.FlushIntervalSeconds = 3600
	return cfg
}

func newTestMonitor(t *testing.T, cfg config.Config) *MonitorServiceImpl {
	t.Helper()
	monitor, err := NewMonitorService(cfg, nil, zap.NewNop())
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return monitor
}

func fallbackEventByMessage(monitor *MonitorServiceImpl, message string) (model.Event, bool) {
	for _, envelope := range monitor.FallbackEvents() {
		if envelope.Kind == model.KindEvent && envelope.Event.Message == message {
			return *envelope.Event, true
		}
	}
	return model.Event{}, false
}

func TestMonitorService(t *testing.T) {
	t.Run("should reject an invalid configuration", func(t *testing.T) {
		cfg := testConfig()
		cfg.SampleRate = 2.0
		_, err := NewMonitorService(cfg, nil, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("should land every event in the fallback ring without a remote", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		for i := 0; i < 100; i++ {
			monitor.Info(context.Background(), model.ComponentAgentCore, model.EventTypeSystem,
				fmt.Sprintf("work item %d", i), nil)
		}
		assert.NoError(t, monitor.Shutdown(context.Background()))

		retained := monitor.FallbackEvents()
		assert.GreaterOrEqual(t, len(retained), 100)
		_, found := fallbackEventByMessage(monitor, "work item 0")
		assert.True(t, found)
		_, found = fallbackEventByMessage(monitor, "work item 99")
		assert.True(t, found)
		assert.Greater(t, monitor.PipelineHealth().Delivery.FallbackBatches, uint64(0))
	})

	t.Run("should drop events below the minimum level", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinLogLevel = model.WarningLevel
		monitor := newTestMonitor(t, cfg)
		defer monitor.Shutdown(context.Background())

		monitor.Debug(context.Background(), model.ComponentAgentCore, model.EventTypeSystem, "debug", nil)
		monitor.Info(context.Background(), model.ComponentAgentCore, model.EventTypeSystem, "info", nil)
		assert.Equal(t, uint64(0), monitor.PipelineHealth().Buffer.Enqueued)

		monitor.Warning(context.Background(), model.ComponentAgentCore, model.EventTypeSystem, "warning", nil)
		assert.Equal(t, uint64(1), monitor.PipelineHealth().Buffer.Enqueued)
	})

	t.Run("should sample low-severity events but never actionable ones", func(t *testing.T) {
		cfg := testConfig()
		cfg.SampleRate = 0
		monitor := newTestMonitor(t, cfg)
		defer monitor.Shutdown(context.Background())

		for i := 0; i < 200; i++ {
			monitor.Info(context.Background(), model.ComponentAgentCore, model.EventTypeSystem, "chatty", nil)
		}
		base := monitor.PipelineHealth().Buffer.Enqueued
		assert.Equal(t, uint64(0), base, "the init event is sampled out too at rate zero")

		monitor.Error(context.Background(), model.ComponentAgentCore, model.EventTypeException, "broken", nil)
		assert.Equal(t, uint64(1), monitor.PipelineHealth().Buffer.Enqueued)
	})

	t.Run("should repair malformed producer input instead of rejecting it", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		monitor.Log(context.Background(), "verbose", "", "", "odd input", nil, nil)
		assert.NoError(t, monitor.Shutdown(context.Background()))

		event, found := fallbackEventByMessage(monitor, "odd input")
		assert.True(t, found)
		assert.Equal(t, model.InfoLevel, event.Level)
		assert.Equal(t, model.ComponentSystem, event.Component)
		assert.Equal(t, model.EventTypeSystem, event.EventType)
	})

	t.Run("should redact sensitive data and attach process metadata", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		monitor.Error(context.Background(), model.ComponentAPIGateway, model.EventTypeAuth,
			"login rejected", map[string]any{"api_key": "sk-123", "username": "alice"})
		assert.NoError(t, monitor.Shutdown(context.Background()))

		event, found := fallbackEventByMessage(monitor, "login rejected")
		assert.True(t, found)
		assert.Equal(t, "[REDACTED]", event.Data["api_key"])
		assert.Equal(t, "alice", event.Data["username"])
		assert.Contains(t, event.Data, "metadata")
	})

	t.Run("should not alias caller-owned tag slices", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		tags := []string{"checkout", "retry"}
		monitor.Log(context.Background(), model.InfoLevel, model.ComponentAgentCore,
			model.EventTypeSystem, "tagged work", nil, tags)
		tags[0] = "mutated-after-the-fact"
		assert.NoError(t, monitor.Shutdown(context.Background()))

		event, found := fallbackEventByMessage(monitor, "tagged work")
		assert.True(t, found)
		assert.Equal(t, []string{"checkout", "retry"}, event.Tags)
	})

	t.Run("should stamp events with the active span", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		ctx, span := monitor.StartSpan(context.Background(), "handle-request", model.ComponentAPIGateway)
		monitor.Info(ctx, model.ComponentAPIGateway, model.EventTypeRequest, "inside span", nil)
		monitor.EndSpan(span, model.SpanStatusOK, nil, "")
		assert.NoError(t, monitor.Shutdown(context.Background()))

		event, found := fallbackEventByMessage(monitor, "inside span")
		assert.True(t, found)
		assert.Equal(t, span.TraceID, event.TraceID)
		assert.Equal(t, span.SpanID, event.SpanID)

		terminal, found := fallbackEventByMessage(monitor, "End span: handle-request")
		assert.True(t, found)
		assert.Equal(t, model.EventTypeTrace, terminal.EventType)
	})

	t.Run("should flush immediately on critical events", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		defer monitor.Shutdown(context.Background())

		monitor.Critical(context.Background(), model.ComponentInfra, model.EventTypeSystem,
			"disk full", nil)
		assert.Eventually(t, func() bool {
			_, found := fallbackEventByMessage(monitor, "disk full")
			return found
		}, 2*time.Second, 10*time.Millisecond,
			"a critical event must not wait for the flush interval")
	})

	t.Run("should record metrics through the registry and onto the wire", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		monitor.RegisterMetric("tokens.used", "Tokens consumed per call", "tokens", model.MetricTypeCounter)
		monitor.RecordMetric("tokens.used", 1500, map[string]string{"model": "gpt-4o"})
		monitor.RecordMetric("tokens.used", math.NaN(), nil)
		assert.NoError(t, monitor.Shutdown(context.Background()))

		metrics := monitor.GetMetrics(MetricFilter{Name: "tokens.used"})
		assert.Equal(t, 1, len(metrics))
		assert.Equal(t, 1, len(metrics[0].Samples), "the non-finite sample is discarded")
		assert.Equal(t, 1500.0, metrics[0].Samples[0].Value)
		assert.Equal(t, "tokens", metrics[0].Samples[0].Unit)

		var sampleOnWire bool
		for _, envelope := range monitor.FallbackEvents() {
			if envelope.Kind == model.KindMetric && envelope.Metric.Name == "tokens.used" {
				sampleOnWire = true
			}
		}
		assert.True(t, sampleOnWire)
	})

	t.Run("should derive API call severity from the status code", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		monitor.RecordAPICall(context.Background(), "openai.chat", 502, 840.5,
			model.ComponentModelService, nil, "bad gateway")
		assert.NoError(t, monitor.Shutdown(context.Background()))

		event, found := fallbackEventByMessage(monitor, "API call: openai.chat -> 502")
		assert.True(t, found)
		assert.Equal(t, model.ErrorLevel, event.Level)
		assert.Equal(t, "bad gateway", event.Data["error"])

		metrics := monitor.GetMetrics(MetricFilter{Name: "api.call.duration_ms"})
		assert.Equal(t, 1, len(metrics))
	})

	t.Run("should track performance outcomes", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		monitor.RecordPerformance(context.Background(), "embedding-batch", 95.0,
			model.ComponentModelService, false, map[string]any{"batch_size": 128})
		assert.NoError(t, monitor.Shutdown(context.Background()))

		event, found := fallbackEventByMessage(monitor, "Operation completed: embedding-batch")
		assert.True(t, found)
		assert.Equal(t, model.WarningLevel, event.Level, "failed operations log at warning")
		assert.Equal(t, false, event.Data["success"])
	})

	t.Run("should default and retain health reports", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		monitor.RecordHealthStatus(model.HealthStatus{Message: "all good"})
		assert.NoError(t, monitor.Shutdown(context.Background()))

		status, ok := monitor.GetHealthStatus("test-service")
		assert.True(t, ok)
		assert.Equal(t, model.HealthStateHealthy, status.Status)
		assert.False(t, status.Timestamp.IsZero())

		var healthOnWire bool
		for _, envelope := range monitor.FallbackEvents() {
			if envelope.Kind == model.KindHealth {
				healthOnWire = true
			}
		}
		assert.True(t, healthOnWire)
	})

	t.Run("should fire alerts from recorded metrics", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		defer monitor.Shutdown(context.Background())

		_, err := monitor.CreateAlert(model.AlertConfig{
			Name:      "slow-requests",
			Component: model.ComponentAPIGateway,
			Condition: "request.duration_ms > 250",
			Severity:  model.ErrorLevel,
			Enabled:   true,
		})
		assert.NoError(t, err)

		monitor.RecordMetric("request.duration_ms", 90, nil)
		assert.Empty(t, monitor.GetAlertInstances())

		monitor.RecordMetric("request.duration_ms", 312, nil)
		instances := monitor.GetAlertInstances()
		assert.Equal(t, 1, len(instances))
		assert.Equal(t, 312.0, instances[0].Value)
	})

	t.Run("should suppress duplicate events inside the window", func(t *testing.T) {
		cfg := testConfig()
		cfg.SuppressDuplicates = true
		monitor := newTestMonitor(t, cfg)
		defer monitor.Shutdown(context.Background())

		monitor.Error(context.Background(), model.ComponentModelService, model.EventTypeException,
			"model call failed", nil)
		// Suppression cache writes are buffered; keep re-sending the
		// duplicate until one is dropped.
		assert.Eventually(t, func() bool {
			monitor.Error(context.Background(), model.ComponentModelService, model.EventTypeException,
				"model call failed", nil)
			return monitor.PipelineHealth().SuppressedCount > 0
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("should expose the last delivery outcome", func(t *testing.T) {
		monitor := newTestMonitor(t, testConfig())
		monitor.Info(context.Background(), model.ComponentAgentCore, model.EventTypeSystem, "one", nil)
		monitor.Flush(context.Background())
		defer monitor.Shutdown(context.Background())

		assert.Eventually(t, func() bool {
			outcome := monitor.PipelineHealth().LastOutcome
			return outcome != nil && outcome.Sink == "tee"
		}, 2*time.Second, 10*time.Millisecond)
	})
}
