package event_bus

import (
	"encoding/json"
	"fmt"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// Topics published inside the telemetry client. Payloads cross the bus
// as JSON so subscribers never share mutable state with publishers.
const (
	DeliveryOutcomeTopic = "telemetry:delivery_outcome"
	AlertTriggeredTopic  = "telemetry:alert_triggered"
)

type TelemetryEventBus[PayloadType any] interface {
	Subscribe(topic string, handler func(payload PayloadType) error) error
	Publish(topic string, payload PayloadType) error
}

type TelemetryEventBusImpl[PayloadType any] struct {
	eventBus EventBus.Bus
	logger   *zap.Logger
}

func NewTelemetryEventBus[PayloadType any](
	eventBus EventBus.Bus,
	logger *zap.Logger,
) TelemetryEventBus[PayloadType] {
	return &TelemetryEventBusImpl[PayloadType]{
		eventBus: eventBus,
		logger:   logger,
	}
}

func (ev *TelemetryEventBusImpl[PayloadType]) Subscribe(
	topic string,
	handler func(payload PayloadType) error,
) error {
	err := ev.eventBus.SubscribeAsync(
		topic,
		func(arg string) {
			var payload PayloadType
			err := json.Unmarshal([]byte(arg), &payload)
			if err != nil {
				ev.logger.Error("Failed to unmarshal payload during subscription of topic",
					zap.String("topic", topic),
					zap.Error(err),
				)
				return
			}
			err = handler(payload)
			if err != nil {
				ev.logger.Error("Failed to handle payload during subscription of topic",
					zap.String("topic", topic),
					zap.Error(err),
				)
			}
		},
		false,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	return nil
}

func (ev *TelemetryEventBusImpl[PayloadType]) Publish(
	topic string,
	payload PayloadType,
) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload during publishing of topic %s: %w", topic, err)
	}
	ev.eventBus.Publish(topic, string(payloadBytes))
	return nil
}
