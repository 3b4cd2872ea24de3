package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	breakerService "github.com/agentforge/telemetry/pkg/breaker/service"
	"github.com/agentforge/telemetry/pkg/clock"
	deliveryService "github.com/agentforge/telemetry/pkg/delivery/service"
	"github.com/agentforge/telemetry/pkg/event_bus"
	"github.com/agentforge/telemetry/pkg/monitor/config"
	"github.com/agentforge/telemetry/pkg/monitor/model"
	samplerService "github.com/agentforge/telemetry/pkg/sampler/service"
	"github.com/agentforge/telemetry/pkg/sink"
	"github.com/agentforge/telemetry/pkg/sink/local"
	tracingService "github.com/agentforge/telemetry/pkg/tracing/service"
	"github.com/agentforge/telemetry/pkg/write_buffer"
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// PipelineHealth is the introspection view over the client's own
// delivery machinery. Delivery failures surface here and through
// self-reported events, never as errors at producer call sites.
type PipelineHealth struct {
	Buffer          write_buffer.BufferStats         `json:"buffer"`
	Delivery        deliveryService.DeliveryStats    `json:"delivery"`
	Circuit         breakerService.Snapshot          `json:"circuit"`
	SuppressedCount int64                            `json:"suppressed_count"`
	LastOutcome     *deliveryService.DeliveryOutcome `json:"last_outcome,omitempty"`
}

// Monitor is the public API application code calls. Every logging and
// metric call returns immediately after enqueue; nothing here blocks on
// or surfaces network I/O.
type Monitor interface {
	Log(ctx context.Context, level model.Level, component model.Component, eventType model.EventType, message string, data map[string]any, tags []string)
	Debug(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any)
	Info(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any)
	Warning(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any)
	Error(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any)
	Critical(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any)

	StartSpan(ctx context.Context, name string, component model.Component, opts ...tracingService.SpanOption) (context.Context, *model.Span)
	EndSpan(span *model.Span, status model.SpanStatus, data map[string]any, errorMessage string)
	WithSpan(ctx context.Context, name string, component model.Component, fn func(ctx context.Context) error) error

	RegisterMetric(name string, description string, unit string, metricType model.MetricType) model.Metric
	RecordMetric(name string, value float64, tags map[string]string)
	GetMetrics(filter MetricFilter) []model.Metric
	RecordAPICall(ctx context.Context, apiName string, statusCode int, durationMs float64, component model.Component, requestData map[string]any, errorMessage string)
	RecordPerformance(ctx context.Context, operation string, durationMs float64, component model.Component, success bool, details map[string]any)

	RecordHealthStatus(status model.HealthStatus)
	GetHealthStatus(serviceID string) (model.HealthStatus, bool)
	PipelineHealth() PipelineHealth

	CreateAlert(alert model.AlertConfig) (model.AlertConfig, error)
	UpdateAlert(alertID string, updates map[string]any) (model.AlertConfig, error)
	DeleteAlert(alertID string) bool
	GetAlerts() []model.AlertConfig
	GetAlertInstances() []model.AlertInstance
	AcknowledgeAlert(instanceID string, acknowledgedBy string) (model.AlertInstance, error)
	ResolveAlert(instanceID string, resolutionMessage string) (model.AlertInstance, error)

	Flush(ctx context.Context)
	Shutdown(ctx context.Context) error
}

type MonitorServiceImpl struct {
	cfg    config.Config
	logger *zap.Logger

	clk clock.Clock
	ids clock.IDSource

	sampler    samplerService.Sampler
	suppressor *samplerService.DuplicateSuppressor
	sanitizer  *Sanitizer

	buffer   write_buffer.TelemetryWriteBuffer
	delivery deliveryService.DeliveryService
	circuit  breakerService.CircuitBreaker
	tracer   tracingService.TraceManager

	metrics *MetricRegistry
	alerts  *AlertRegistry

	healthMu sync.Mutex
	health   map[string]model.HealthStatus

	outcomeMu   sync.Mutex
	lastOutcome *deliveryService.DeliveryOutcome

	fallbackRing *local.RingSink
	metadata     map[string]any
}

// NewMonitorService wires the full pipeline. remote may be nil; every
// batch then routes to the local fallback sink. Configuration errors
// are fatal here; this is the only point where this subsystem reports
// an error synchronously.
func NewMonitorService(
	cfg config.Config,
	remote sink.TelemetrySink,
	logger *zap.Logger,
) (*MonitorServiceImpl, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	clk := clock.NewSystemClock()
	ids := clock.NewUUIDSource()

	bus := EventBus.New()
	outcomeBus := event_bus.NewTelemetryEventBus[deliveryService.DeliveryOutcome](bus, logger)
	alertBus := event_bus.NewTelemetryEventBus[model.AlertInstance](bus, logger)

	ring := local.NewRingSink(local.DefaultRingCapacity)
	fallback := local.NewTeeSink(local.NewConsoleSink(logger), ring)

	circuit := breakerService.NewCircuitBreakerImpl(
		cfg.FailureThreshold,
		cfg.RecoveryTimeout(),
		clk,
		logger,
	)
	delivery := deliveryService.NewDeliveryServiceImpl(
		remote,
		fallback,
		circuit,
		outcomeBus,
		cfg.MaxRetries,
		cfg.Timeout(),
		cfg.GiveupThreshold(),
		cfg.RetryBufferSize,
		clk,
		ids,
		logger,
	)
	buffer := write_buffer.NewTelemetryWriteBufferImpl(
		cfg.BatchSize,
		cfg.PendingQueueSize,
		cfg.FlushInterval(),
		cfg.MaxInFlight,
		delivery.Deliver,
		logger,
	)
	delivery.SetSelfReport(func(event model.Event) {
		buffer.Enqueue(model.EventEnvelope(event))
	})

	m := &MonitorServiceImpl{
		cfg:          cfg,
		logger:       logger,
		clk:          clk,
		ids:          ids,
		sampler:      samplerService.NewProbabilisticSamplerImpl(cfg.SampleRate),
		sanitizer:    NewSanitizer(cfg.RedactKeys),
		buffer:       buffer,
		delivery:     delivery,
		circuit:      circuit,
		metrics:      NewMetricRegistry(),
		health:       make(map[string]model.HealthStatus),
		fallbackRing: ring,
	}

	if cfg.SuppressDuplicates {
		suppressor, err := samplerService.NewDuplicateSuppressor(cfg.SuppressionWindow(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build duplicate suppressor: %w", err)
		}
		m.suppressor = suppressor
	}

	// Span events skip the sampler: dropping random spans breaks trace
	// trees. They still honor the minimum level.
	m.tracer = tracingService.NewTraceManagerImpl(clk, ids, func(envelope model.Envelope) {
		if envelope.Event != nil && !envelope.Event.Level.AtLeast(cfg.MinLogLevel) {
			return
		}
		buffer.Enqueue(envelope)
	}, logger)

	m.alerts = NewAlertRegistry(clk, ids, alertBus, func(event model.Event) {
		buffer.Enqueue(model.EventEnvelope(event))
	}, logger)

	if err := outcomeBus.Subscribe(event_bus.DeliveryOutcomeTopic, m.onDeliveryOutcome); err != nil {
		return nil, fmt.Errorf("failed to subscribe to delivery outcomes: %w", err)
	}
	if err := alertBus.Subscribe(event_bus.AlertTriggeredTopic, m.onAlertTriggered); err != nil {
		return nil, fmt.Errorf("failed to subscribe to triggered alerts: %w", err)
	}

	if cfg.EnableMetadata {
		m.metadata = collectMetadata(cfg.ServiceName, cfg.Environment)
	}

	m.Info(context.Background(), model.ComponentTelemetry, model.EventTypeLifecycle,
		"Telemetry monitor initialized",
		map[string]any{"service": cfg.ServiceName, "environment": cfg.Environment},
	)
	return m, nil
}

func (m *MonitorServiceImpl) Log(
	ctx context.Context,
	level model.Level,
	component model.Component,
	eventType model.EventType,
	message string,
	data map[string]any,
	tags []string,
) {
	// Best-effort coercion: malformed producer input is repaired, never
	// rejected back to the caller.
	if !level.Valid() {
		level = model.InfoLevel
	}
	if component == "" {
		component = model.ComponentSystem
	}
	if eventType == "" {
		eventType = model.EventTypeSystem
	}
	if !level.AtLeast(m.cfg.MinLogLevel) {
		return
	}
	if !m.sampler.Admit(level) {
		return
	}

	var tagsCopy []string
	if len(tags) > 0 {
		tagsCopy = make([]string, len(tags))
		copy(tagsCopy, tags)
	}
	event := model.Event{
		EventID:   m.ids.NewEventID(),
		Timestamp: m.clk.Now(),
		Level:     level,
		Component: component,
		EventType: eventType,
		Message:   message,
		Data:      m.sanitizer.Sanitize(data),
		Tags:      tagsCopy,
	}
	if span := tracingService.ActiveSpan(ctx); span != nil {
		event.TraceID = span.TraceID
		event.SpanID = span.SpanID
	}
	if m.metadata != nil {
		if event.Data == nil {
			event.Data = make(map[string]any, 1)
		}
		event.Data["metadata"] = m.metadata
	}
	if m.suppressor != nil && !m.suppressor.Admit(&event) {
		return
	}

	m.buffer.Enqueue(model.EventEnvelope(event))
	if level == model.CriticalLevel {
		m.buffer.RequestFlush()
	}
}

func (m *MonitorServiceImpl) Debug(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any) {
	m.Log(ctx, model.DebugLevel, component, eventType, message, data, nil)
}

func (m *MonitorServiceImpl) Info(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any) {
	m.Log(ctx, model.InfoLevel, component, eventType, message, data, nil)
}

func (m *MonitorServiceImpl) Warning(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any) {
	m.Log(ctx, model.WarningLevel, component, eventType, message, data, nil)
}

func (m *MonitorServiceImpl) Error(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any) {
	m.Log(ctx, model.ErrorLevel, component, eventType, message, data, nil)
}

func (m *MonitorServiceImpl) Critical(ctx context.Context, component model.Component, eventType model.EventType, message string, data map[string]any) {
	m.Log(ctx, model.CriticalLevel, component, eventType, message, data, nil)
}

func (m *MonitorServiceImpl) StartSpan(
	ctx context.Context,
	name string,
	component model.Component,
	opts ...tracingService.SpanOption,
) (context.Context, *model.Span) {
	return m.tracer.StartSpan(ctx, name, component, opts...)
}

func (m *MonitorServiceImpl) EndSpan(span *model.Span, status model.SpanStatus, data map[string]any, errorMessage string) {
	m.tracer.EndSpan(span, status, m.sanitizer.Sanitize(data), errorMessage)
}

func (m *MonitorServiceImpl) WithSpan(
	ctx context.Context,
	name string,
	component model.Component,
	fn func(ctx context.Context) error,
) error {
	return m.tracer.WithSpan(ctx, name, component, fn)
}

func (m *MonitorServiceImpl) RegisterMetric(name string, description string, unit string, metricType model.MetricType) model.Metric {
	return m.metrics.Register(name, description, unit, metricType)
}

func (m *MonitorServiceImpl) RecordMetric(name string, value float64, tags map[string]string) {
	if name == "" {
		return
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		m.logger.Warn("Discarding non-finite metric value", zap.String("name", name))
		return
	}
	var tagsCopy map[string]string
	if len(tags) > 0 {
		tagsCopy = make(map[string]string, len(tags))
		for key, val := range tags {
			tagsCopy[key] = val
		}
	}
	sample := model.MetricSample{
		Name:      name,
		Value:     value,
		Unit:      m.metrics.UnitFor(name),
		Tags:      tagsCopy,
		Timestamp: m.clk.Now(),
	}
	m.metrics.Record(sample)
	m.buffer.Enqueue(model.MetricEnvelope(sample))
	m.alerts.Evaluate(sample)
}

func (m *MonitorServiceImpl) GetMetrics(filter MetricFilter) []model.Metric {
	return m.metrics.List(filter)
}

func (m *MonitorServiceImpl) RecordAPICall(
	ctx context.Context,
	apiName string,
	statusCode int,
	durationMs float64,
	component model.Component,
	requestData map[string]any,
	errorMessage string,
) {
	level := model.InfoLevel
	switch {
	case statusCode >= 500:
		level = model.ErrorLevel
	case statusCode >= 400:
		level = model.WarningLevel
	}
	data := map[string]any{
		"api_name":    apiName,
		"status_code": statusCode,
		"duration_ms": durationMs,
	}
	if len(requestData) > 0 {
		data["request"] = requestData
	}
	if errorMessage != "" {
		data["error"] = errorMessage
	}
	m.Log(ctx, level, component, model.EventTypeRequest,
		fmt.Sprintf("API call: %s -> %d", apiName, statusCode), data, nil)
	m.RecordMetric("api.call.duration_ms", durationMs, map[string]string{
		"api":    apiName,
		"status": strconv.Itoa(statusCode),
	})
}

func (m *MonitorServiceImpl) RecordPerformance(
	ctx context.Context,
	operation string,
	durationMs float64,
	component model.Component,
	success bool,
	details map[string]any,
) {
	level := model.InfoLevel
	if !success {
		level = model.WarningLevel
	}
	data := map[string]any{
		"operation":   operation,
		"duration_ms": durationMs,
		"success":     success,
	}
	for key, value := range details {
		data[key] = value
	}
	m.Log(ctx, level, component, model.EventTypeMetric,
		fmt.Sprintf("Operation completed: %s", operation), data, nil)
	m.RecordMetric("operation.duration_ms", durationMs, map[string]string{
		"operation": operation,
		"success":   strconv.FormatBool(success),
	})
}

func (m *MonitorServiceImpl) RecordHealthStatus(status model.HealthStatus) {
	if status.ServiceID == "" {
		status.ServiceID = m.cfg.ServiceName
	}
	if status.Status == "" {
		status.Status = model.HealthStateHealthy
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = m.clk.Now()
	}
	m.healthMu.Lock()
	m.health[status.ServiceID] = status
	m.healthMu.Unlock()
	m.buffer.Enqueue(model.HealthEnvelope(status))
}

func (m *MonitorServiceImpl) GetHealthStatus(serviceID string) (model.HealthStatus, bool) {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	status, ok := m.health[serviceID]
	return status, ok
}

func (m *MonitorServiceImpl) PipelineHealth() PipelineHealth {
	health := PipelineHealth{
		Buffer:   m.buffer.Stats(),
		Delivery: m.delivery.Stats(),
		Circuit:  m.circuit.Snapshot(),
	}
	if m.suppressor != nil {
		health.SuppressedCount = m.suppressor.SuppressedCount()
	}
	m.outcomeMu.Lock()
	if m.lastOutcome != nil {
		outcome := *m.lastOutcome
		health.LastOutcome = &outcome
	}
	m.outcomeMu.Unlock()
	return health
}

func (m *MonitorServiceImpl) CreateAlert(alert model.AlertConfig) (model.AlertConfig, error) {
	return m.alerts.Create(alert)
}

func (m *MonitorServiceImpl) UpdateAlert(alertID string, updates map[string]any) (model.AlertConfig, error) {
	return m.alerts.Update(alertID, updates)
}

func (m *MonitorServiceImpl) DeleteAlert(alertID string) bool {
	return m.alerts.Delete(alertID)
}

func (m *MonitorServiceImpl) GetAlerts() []model.AlertConfig {
	return m.alerts.List()
}

func (m *MonitorServiceImpl) GetAlertInstances() []model.AlertInstance {
	return m.alerts.Instances()
}

func (m *MonitorServiceImpl) AcknowledgeAlert(instanceID string, acknowledgedBy string) (model.AlertInstance, error) {
	return m.alerts.Acknowledge(instanceID, acknowledgedBy)
}

func (m *MonitorServiceImpl) ResolveAlert(instanceID string, resolutionMessage string) (model.AlertInstance, error) {
	return m.alerts.Resolve(instanceID, resolutionMessage)
}

// FallbackEvents exposes what the in-memory fallback ring retained,
// oldest first. Useful for local debugging during backend outages.
func (m *MonitorServiceImpl) FallbackEvents() []model.Envelope {
	return m.fallbackRing.Items()
}

func (m *MonitorServiceImpl) Flush(ctx context.Context) {
	m.buffer.Flush(ctx)
}

func (m *MonitorServiceImpl) Shutdown(ctx context.Context) error {
	m.Info(context.Background(), model.ComponentTelemetry, model.EventTypeLifecycle,
		"Telemetry monitor shutting down", nil)
	err := m.buffer.Shutdown(ctx)
	if m.suppressor != nil {
		m.suppressor.Close()
	}
	if err != nil {
		return fmt.Errorf("telemetry shutdown drain incomplete: %w", err)
	}
	return nil
}

func (m *MonitorServiceImpl) onDeliveryOutcome(outcome deliveryService.DeliveryOutcome) error {
	m.outcomeMu.Lock()
	m.lastOutcome = &outcome
	m.outcomeMu.Unlock()
	return nil
}

func (m *MonitorServiceImpl) onAlertTriggered(instance model.AlertInstance) error {
	m.logger.Warn("Alert triggered",
		zap.String("alert_id", instance.AlertID),
		zap.String("instance_id", instance.InstanceID),
		zap.String("message", instance.Message),
	)
	return nil
}
