package service

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentforge/telemetry/pkg/clock"
	"github.com/agentforge/telemetry/pkg/event_bus"
	"github.com/agentforge/telemetry/pkg/monitor/model"
	"go.uber.org/zap"
)

const defaultCooldownSeconds = 300

var (
	ErrAlertNotFound    = errors.New("alert not found")
	ErrInstanceNotFound = errors.New("alert instance not found")
)

// AlertRegistry holds alert configurations and fired instances, and
// evaluates metric samples against enabled conditions.
type AlertRegistry struct {
	mu            sync.Mutex
	alerts        map[string]model.AlertConfig
	instances     map[string]model.AlertInstance
	lastTriggered map[string]time.Time

	clk    clock.Clock
	ids    clock.IDSource
	bus    event_bus.TelemetryEventBus[model.AlertInstance]
	emit   func(event model.Event)
	logger *zap.Logger
}

func NewAlertRegistry(
	clk clock.Clock,
	ids clock.IDSource,
	bus event_bus.TelemetryEventBus[model.AlertInstance],
	emit func(event model.Event),
	logger *zap.Logger,
) *AlertRegistry {
	return &AlertRegistry{
		alerts:        make(map[string]model.AlertConfig),
		instances:     make(map[string]model.AlertInstance),
		lastTriggered: make(map[string]time.Time),
		clk:           clk,
		ids:           ids,
		bus:           bus,
		emit:          emit,
		logger:        logger,
	}
}

func (r *AlertRegistry) Create(alert model.AlertConfig) (model.AlertConfig, error) {
	if alert.Name == "" {
		return model.AlertConfig{}, fmt.Errorf("alert name is required")
	}
	if _, _, _, err := parseCondition(alert.Condition); err != nil {
		return model.AlertConfig{}, fmt.Errorf("invalid alert condition %q: %w", alert.Condition, err)
	}
	if alert.AlertID == "" {
		alert.AlertID = r.ids.NewEventID()
	}
	if alert.CooldownSeconds <= 0 {
		alert.CooldownSeconds = defaultCooldownSeconds
	}
	if alert.Severity == "" {
		alert.Severity = model.WarningLevel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.alerts[alert.AlertID]; exists {
		return model.AlertConfig{}, fmt.Errorf("alert %s already exists", alert.AlertID)
	}
	r.alerts[alert.AlertID] = alert
	return alert, nil
}

func (r *AlertRegistry) Update(alertID string, updates map[string]any) (model.AlertConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[alertID]
	if !ok {
		return model.AlertConfig{}, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	for key, value := range updates {
		switch key {
		case "name":
			if v, ok := value.(string); ok {
				alert.Name = v
			}
		case "description":
			if v, ok := value.(string); ok {
				alert.Description = v
			}
		case "condition":
			v, ok := value.(string)
			if !ok {
				continue
			}
			if _, _, _, err := parseCondition(v); err != nil {
				return model.AlertConfig{}, fmt.Errorf("invalid alert condition %q: %w", v, err)
			}
			alert.Condition = v
		case "severity":
			if v, ok := value.(string); ok && model.Level(v).Valid() {
				alert.Severity = model.Level(v)
			}
		case "enabled":
			if v, ok := value.(bool); ok {
				alert.Enabled = v
			}
		case "cooldown_seconds":
			switch v := value.(type) {
			case int:
				alert.CooldownSeconds = v
			case float64:
				alert.CooldownSeconds = int(v)
			}
		}
	}
	r.alerts[alertID] = alert
	return alert, nil
}

func (r *AlertRegistry) Delete(alertID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alertID]; !ok {
		return false
	}
	delete(r.alerts, alertID)
	delete(r.lastTriggered, alertID)
	return true
}

func (r *AlertRegistry) List() []model.AlertConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AlertConfig, 0, len(r.alerts))
	for _, alert := range r.alerts {
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *AlertRegistry) Instances() []model.AlertInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AlertInstance, 0, len(r.instances))
	for _, instance := range r.instances {
		out = append(out, instance)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out
}

func (r *AlertRegistry) Acknowledge(instanceID string, acknowledgedBy string) (model.AlertInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[instanceID]
	if !ok {
		return model.AlertInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	now := r.clk.Now()
	instance.Status = model.AlertStatusAcknowledged
	instance.AcknowledgedBy = acknowledgedBy
	instance.AcknowledgedAt = &now
	r.instances[instanceID] = instance
	return instance, nil
}

func (r *AlertRegistry) Resolve(instanceID string, resolutionMessage string) (model.AlertInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[instanceID]
	if !ok {
		return model.AlertInstance{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	now := r.clk.Now()
	instance.Status = model.AlertStatusResolved
	instance.ResolvedAt = &now
	instance.ResolutionMessage = resolutionMessage
	r.instances[instanceID] = instance
	return instance, nil
}

// Evaluate checks the sample against every enabled alert. Triggers
// respect per-alert cooldown, fan out on the event bus, and synthesize
// an event at the alert's severity.
func (r *AlertRegistry) Evaluate(sample model.MetricSample) {
	now := r.clk.Now()
	var fired []model.AlertInstance

	r.mu.Lock()
	for _, alert := range r.alerts {
		if !alert.Enabled {
			continue
		}
		metricName, op, threshold, err := parseCondition(alert.Condition)
		if err != nil || metricName != sample.Name {
			continue
		}
		if !compare(sample.Value, op, threshold) {
			continue
		}
		if last, ok := r.lastTriggered[alert.AlertID]; ok {
			if now.Sub(last) < time.Duration(alert.CooldownSeconds)*time.Second {
				continue
			}
		}
		r.lastTriggered[alert.AlertID] = now
		instance := model.AlertInstance{
			AlertID:     alert.AlertID,
			InstanceID:  r.ids.NewEventID(),
			TriggeredAt: now,
			Status:      model.AlertStatusActive,
			Value:       sample.Value,
			Message:     fmt.Sprintf("Alert %s triggered: %s (value=%g)", alert.Name, alert.Condition, sample.Value),
			Component:   alert.Component,
			Severity:    alert.Severity,
			Metadata:    map[string]any{"metric": sample.Name},
		}
		r.instances[instance.InstanceID] = instance
		fired = append(fired, instance)
	}
	r.mu.Unlock()

	for _, instance := range fired {
		if err := r.bus.Publish(event_bus.AlertTriggeredTopic, instance); err != nil {
			r.logger.Error("Failed to publish alert instance", zap.Error(err))
		}
		r.emit(model.Event{
			EventID:   r.ids.NewEventID(),
			Timestamp: instance.TriggeredAt,
			Level:     instance.Severity,
			Component: instance.Component,
			EventType: model.EventTypeAlert,
			Message:   instance.Message,
			Data: map[string]any{
				"alert_id":    instance.AlertID,
				"instance_id": instance.InstanceID,
				"value":       instance.Value,
			},
		})
	}
}

func parseCondition(condition string) (string, string, float64, error) {
	fields := strings.Fields(condition)
	if len(fields) != 3 {
		return "", "", 0, fmt.Errorf("expected \"<metric> <op> <threshold>\", got %d tokens", len(fields))
	}
	op := fields[1]
	switch op {
	case ">", ">=", "<", "<=", "==":
	default:
		return "", "", 0, fmt.Errorf("unsupported operator %q", op)
	}
	threshold, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("threshold is not a number: %w", err)
	}
	return fields[0], op, threshold, nil
}

func compare(value float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	default:
		return false
	}
}
