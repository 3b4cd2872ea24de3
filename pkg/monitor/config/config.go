package config

import (
	"fmt"
	"os"
	"time"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv. The write token doubles
// as the presence check for a remote backend: without it the client
// runs against the local fallback sink only.
const (
	EnvWriteToken = "TELEMETRY_WRITE_TOKEN"
	EnvProjectID  = "TELEMETRY_PROJECT_ID"
)

type Config struct {
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`

	APIKey      string `yaml:"api_key"`
	ProjectID   string `yaml:"project_id"`
	APIEndpoint string `yaml:"api_endpoint"`

	MinLogLevel model.Level `yaml:"min_log_level"`

	BatchSize            int     `yaml:"batch_size"`
	FlushIntervalSeconds float64 `yaml:"flush_interval_seconds"`
	PendingQueueSize     int     `yaml:"pending_queue_size"`
	MaxInFlight          int     `yaml:"max_in_flight"`

	SampleRate               float64 `yaml:"sample_rate"`
	SuppressDuplicates       bool    `yaml:"suppress_duplicates"`
	SuppressionWindowSeconds float64 `yaml:"suppression_window_seconds"`

	MaxRetries             int     `yaml:"max_retries"`
	TimeoutSeconds         float64 `yaml:"timeout_seconds"`
	FailureThreshold       int     `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds float64 `yaml:"recovery_timeout_seconds"`
	GiveupSeconds          float64 `yaml:"giveup_seconds"`
	RetryBufferSize        int     `yaml:"retry_buffer_size"`

	EnableMetadata bool     `yaml:"enable_metadata"`
	RedactKeys     []string `yaml:"redact_keys"`
}

func Default() Config {
	return Config{
		ServiceName:              "unnamed-service",
		Environment:              "development",
		MinLogLevel:              model.InfoLevel,
		BatchSize:                50,
		FlushIntervalSeconds:     2.0,
		PendingQueueSize:         1000,
		MaxInFlight:              2,
		SampleRate:               1.0,
		SuppressionWindowSeconds: 30.0,
		MaxRetries:               3,
		TimeoutSeconds:           10.0,
		FailureThreshold:         5,
		RecoveryTimeoutSeconds:   30.0,
		GiveupSeconds:            300.0,
		RetryBufferSize:          10,
		EnableMetadata:           true,
	}
}

// Load reads a yaml config file, expanding ${VAR} references from the
// environment before parsing. Unset fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays the backend write token and project id from the
// environment when present.
func (c *Config) ApplyEnv() {
	if token := os.Getenv(EnvWriteToken); token != "" {
		c.APIKey = token
	}
	if project := os.Getenv(EnvProjectID); project != "" {
		c.ProjectID = project
	}
}

func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if !c.MinLogLevel.Valid() {
		return fmt.Errorf("min_log_level %q is not a valid level", c.MinLogLevel)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.FlushIntervalSeconds <= 0 {
		return fmt.Errorf("flush_interval_seconds must be positive, got %f", c.FlushIntervalSeconds)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %f", c.TimeoutSeconds)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got %f", c.SampleRate)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeoutSeconds <= 0 {
		return fmt.Errorf("recovery_timeout_seconds must be positive, got %f", c.RecoveryTimeoutSeconds)
	}
	if c.PendingQueueSize < c.BatchSize {
		return fmt.Errorf(
			"pending_queue_size (%d) must be at least batch_size (%d)",
			c.PendingQueueSize, c.BatchSize,
		)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("max_in_flight must be at least 1, got %d", c.MaxInFlight)
	}
	if c.RetryBufferSize < 0 {
		return fmt.Errorf("retry_buffer_size must be non-negative, got %d", c.RetryBufferSize)
	}
	return nil
}

// HasRemote reports whether a remote backend is configured. Absent
// credentials route all delivery to the local fallback sink.
func (c *Config) HasRemote() bool {
	return c.APIKey != ""
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds * float64(time.Second))
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

func (c *Config) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSeconds * float64(time.Second))
}

func (c *Config) GiveupThreshold() time.Duration {
	return time.Duration(c.GiveupSeconds * float64(time.Second))
}

func (c *Config) SuppressionWindow() time.Duration {
	return time.Duration(c.SuppressionWindowSeconds * float64(time.Second))
}
