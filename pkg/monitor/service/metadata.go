package service

import (
	"os"
	"runtime"
)

// collectMetadata gathers host and runtime identity attached to
// outgoing events when enable_metadata is set. Collected once at
// startup; the map is treated as read-only afterwards.
func collectMetadata(serviceName string, environment string) map[string]any {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return map[string]any{
		"host": map[string]any{
			"name": hostname,
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
		},
		"runtime": map[string]any{
			"go_version": runtime.Version(),
			"pid":        os.Getpid(),
		},
		"service": map[string]any{
			"name":        serviceName,
			"environment": environment,
		},
	}
}
