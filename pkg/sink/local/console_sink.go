package local

import (
	"context"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/agentforge/telemetry/pkg/sink"
	"go.uber.org/zap"
)

// ConsoleSink writes envelopes through the process logger. It backs the
// fallback path during backend outages so telemetry is never silently
// empty. Never fails.
type ConsoleSink struct {
	logger *zap.Logger
}

func NewConsoleSink(logger *zap.Logger) *ConsoleSink {
	return &ConsoleSink{logger: logger}
}

func (c *ConsoleSink) Name() string {
	return "console"
}

func (c *ConsoleSink) Send(_ context.Context, batch []model.Envelope) (sink.Outcome, error) {
	for _, envelope := range batch {
		switch envelope.Kind {
		case model.KindEvent:
			c.logEvent(envelope.Event)
		case model.KindMetric:
			c.logger.Info("metric",
				zap.String("name", envelope.Metric.Name),
				zap.Float64("value", envelope.Metric.Value),
				zap.Any("tags", envelope.Metric.Tags),
			)
		case model.KindHealth:
			c.logger.Info("health",
				zap.String("service_id", envelope.Health.ServiceID),
				zap.String("status", string(envelope.Health.Status)),
			)
		}
	}
	return sink.OutcomeSuccess, nil
}

func (c *ConsoleSink) logEvent(event *model.Event) {
	fields := []zap.Field{
		zap.String("component", string(event.Component)),
		zap.String("event_type", string(event.EventType)),
	}
	if event.TraceID != "" {
		fields = append(fields, zap.String("trace_id", event.TraceID))
	}
	if len(event.Data) > 0 {
		fields = append(fields, zap.Any("data", event.Data))
	}
	switch event.Level {
	case model.DebugLevel:
		c.logger.Debug(event.Message, fields...)
	case model.WarningLevel:
		c.logger.Warn(event.Message, fields...)
	case model.ErrorLevel, model.CriticalLevel:
		c.logger.Error(event.Message, fields...)
	default:
		c.logger.Info(event.Message, fields...)
	}
}
