package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentforge/telemetry/pkg/monitor/config"
	"github.com/agentforge/telemetry/pkg/monitor/model"
	monitorService "github.com/agentforge/telemetry/pkg/monitor/service"
	"github.com/agentforge/telemetry/pkg/sink"
	"github.com/agentforge/telemetry/pkg/sink/httpsink"
	"github.com/agentforge/telemetry/pkg/sink/otlp"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("c", "", "path to yaml config file")
	otlpTarget := flag.String("otlp", "", "OTLP collector target (host:port), overrides the HTTP sink")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Local development convenience; a missing .env file is fine.
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("Failed to load config", zap.Error(err))
		}
	}
	cfg.ApplyEnv()

	var remote sink.TelemetrySink
	switch {
	case *otlpTarget != "":
		otlpSink, err := otlp.NewOTLPSink(*otlpTarget, cfg.ServiceName, logger)
		if err != nil {
			logger.Fatal("Failed to create OTLP sink", zap.Error(err))
		}
		defer otlpSink.Close()
		remote = otlpSink
	case cfg.HasRemote():
		remote = httpsink.NewHTTPSink(cfg.APIEndpoint, cfg.APIKey, cfg.ProjectID, logger)
	default:
		logger.Info("No backend credentials found, telemetry routes to the local fallback sink")
	}

	monitor, err := monitorService.NewMonitorService(cfg, remote, logger)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry monitor", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runDemo(ctx, monitor)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := monitor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown incomplete", zap.Error(err))
	}
}

// runDemo emits a representative slice of telemetry: nested spans,
// logs correlated to them, metrics with an alert wired on top, and a
// health report.
func runDemo(ctx context.Context, monitor monitorService.Monitor) {
	if _, err := monitor.CreateAlert(model.AlertConfig{
		Name:      "slow-requests",
		Component: model.ComponentAPIGateway,
		Condition: "request.duration_ms > 250",
		Severity:  model.WarningLevel,
		Enabled:   true,
	}); err != nil {
		monitor.Warning(ctx, model.ComponentTelemetry, model.EventTypeSystem,
			"Failed to create demo alert", map[string]any{"error": err.Error()})
	}

	_ = monitor.WithSpan(ctx, "handle-request", model.ComponentAPIGateway, func(ctx context.Context) error {
		monitor.Info(ctx, model.ComponentAPIGateway, model.EventTypeRequest,
			"Handling inbound request", map[string]any{"path": "/v1/answer"})

		err := monitor.WithSpan(ctx, "model-inference", model.ComponentModelService, func(ctx context.Context) error {
			start := time.Now()
			select {
			case <-time.After(120 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			monitor.RecordPerformance(ctx, "model-inference",
				float64(time.Since(start).Milliseconds()), model.ComponentModelService, true, nil)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		monitor.RecordMetric("request.duration_ms", 312, map[string]string{"path": "/v1/answer"})
		return nil
	})

	monitor.RecordHealthStatus(model.HealthStatus{
		ServiceID: "demo",
		Status:    model.HealthStateHealthy,
		Message:   "demo run complete",
		Checks:    map[string]bool{"pipeline": true},
	})
	monitor.Flush(ctx)
}
