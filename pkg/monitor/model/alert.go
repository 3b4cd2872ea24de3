package model

import "time"

type AlertInstanceStatus string

const (
	AlertStatusActive       AlertInstanceStatus = "active"
	AlertStatusAcknowledged AlertInstanceStatus = "acknowledged"
	AlertStatusResolved     AlertInstanceStatus = "resolved"
)

// AlertConfig declares a metric-threshold alert. Condition is an
// expression of the form "<metric_name> <op> <threshold>" where op is
// one of >, >=, <, <=, ==.
type AlertConfig struct {
	AlertID              string    `json:"alert_id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description,omitempty"`
	Component            Component `json:"component"`
	Condition            string    `json:"condition"`
	Severity             Level     `json:"severity"`
	NotificationChannels []string  `json:"notification_channels,omitempty"`
	CooldownSeconds      int       `json:"cooldown_seconds"`
	Enabled              bool      `json:"enabled"`
	Tags                 []string  `json:"tags,omitempty"`
}

// AlertInstance is one firing of an alert.
type AlertInstance struct {
	AlertID           string              `json:"alert_id"`
	InstanceID        string              `json:"instance_id"`
	TriggeredAt       time.Time           `json:"triggered_at"`
	ResolvedAt        *time.Time          `json:"resolved_at,omitempty"`
	Status            AlertInstanceStatus `json:"status"`
	Value             float64             `json:"value"`
	Message           string              `json:"message"`
	Component         Component           `json:"component"`
	Severity          Level               `json:"severity"`
	Metadata          map[string]any      `json:"metadata,omitempty"`
	AcknowledgedBy    string              `json:"acknowledged_by,omitempty"`
	AcknowledgedAt    *time.Time          `json:"acknowledged_at,omitempty"`
	ResolutionMessage string              `json:"resolution_message,omitempty"`
}
