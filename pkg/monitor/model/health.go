package model

import "time"

type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateDegraded  HealthState = "degraded"
	HealthStateUnhealthy HealthState = "unhealthy"
)

// ResourceUsage is a point-in-time snapshot of process resource
// consumption, reported by the host application.
type ResourceUsage struct {
	CPUPercent          float64   `json:"cpu_percent"`
	MemoryPercent       float64   `json:"memory_percent"`
	MemoryRSS           int64     `json:"memory_rss"`
	DiskIORead          int64     `json:"disk_io_read"`
	DiskIOWrite         int64     `json:"disk_io_write"`
	NetworkRecv         int64     `json:"network_recv"`
	NetworkSent         int64     `json:"network_sent"`
	OpenFileDescriptors int       `json:"open_file_descriptors"`
	Timestamp           time.Time `json:"timestamp"`
}

// HealthStatus is a point-in-time health report for one service. Each
// new report for the same ServiceID overwrites the previous one.
type HealthStatus struct {
	ServiceID     string          `json:"service_id"`
	ServiceName   string          `json:"service_name"`
	Status        HealthState     `json:"status"`
	Message       string          `json:"message,omitempty"`
	Version       string          `json:"version,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	ResourceUsage *ResourceUsage  `json:"resource_usage,omitempty"`
	Checks        map[string]bool `json:"checks,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}
