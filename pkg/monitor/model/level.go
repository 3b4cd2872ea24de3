package model

// Level is the severity of a telemetry event.
type Level string

const (
	DebugLevel    Level = "debug"
	InfoLevel     Level = "info"
	WarningLevel  Level = "warning"
	ErrorLevel    Level = "error"
	CriticalLevel Level = "critical"
)

var levelSeverity = map[Level]int{
	DebugLevel:    0,
	InfoLevel:     1,
	WarningLevel:  2,
	ErrorLevel:    3,
	CriticalLevel: 4,
}

// Severity returns the numeric rank of the level. Unknown levels rank as
// info so that malformed input is kept rather than silently dropped.
func (l Level) Severity() int {
	if s, ok := levelSeverity[l]; ok {
		return s
	}
	return levelSeverity[InfoLevel]
}

func (l Level) AtLeast(other Level) bool {
	return l.Severity() >= other.Severity()
}

func (l Level) Valid() bool {
	_, ok := levelSeverity[l]
	return ok
}

// Component identifies which part of the host application produced an
// event. Free-form, with well-known values predeclared.
type Component string

const (
	ComponentAgentCore    Component = "agent_core"
	ComponentModelService Component = "model_service"
	ComponentToolService  Component = "tool_service"
	ComponentAPIGateway   Component = "api_gateway"
	ComponentInfra        Component = "infrastructure"
	ComponentDatabase     Component = "database"
	ComponentMessaging    Component = "messaging"
	ComponentSystem       Component = "system"
	ComponentTelemetry    Component = "telemetry"
)

// EventType classifies what kind of occurrence an event records.
type EventType string

const (
	EventTypeRequest    EventType = "request"
	EventTypeResponse   EventType = "response"
	EventTypeException  EventType = "exception"
	EventTypeMetric     EventType = "metric"
	EventTypeLifecycle  EventType = "lifecycle"
	EventTypeValidation EventType = "validation"
	EventTypeAuth       EventType = "authentication"
	EventTypeSystem     EventType = "system"
	EventTypeTrace      EventType = "trace"
	EventTypeDelivery   EventType = "delivery"
	EventTypeAlert      EventType = "alert"
)
