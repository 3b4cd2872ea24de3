package otlp

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/agentforge/telemetry/pkg/sink"
	protoLogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	protoCommon "go.opentelemetry.io/proto/otlp/common/v1"
	v1 "go.opentelemetry.io/proto/otlp/logs/v1"
	protoResource "go.opentelemetry.io/proto/otlp/resource/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// OTLPSink exports batches to an OpenTelemetry collector over gRPC.
// All envelope kinds ship as log records: metrics and health reports
// are encoded as attributed records rather than through the metrics
// service, since the backend here is logs-first.
type OTLPSink struct {
	conn        *grpc.ClientConn
	logsClient  protoLogs.LogsServiceClient
	serviceName string
	logger      *zap.Logger
}

func NewOTLPSink(target string, serviceName string, logger *zap.Logger) (*OTLPSink, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return &OTLPSink{
		conn:        conn,
		logsClient:  protoLogs.NewLogsServiceClient(conn),
		serviceName: serviceName,
		logger:      logger,
	}, nil
}

func (o *OTLPSink) Name() string {
	return "otlp"
}

func (o *OTLPSink) Close() error {
	return o.conn.Close()
}

func (o *OTLPSink) Send(ctx context.Context, batch []model.Envelope) (sink.Outcome, error) {
	records := make([]*v1.LogRecord, 0, len(batch))
	for _, envelope := range batch {
		records = append(records, toLogRecord(envelope))
	}

	req := &protoLogs.ExportLogsServiceRequest{
		ResourceLogs: []*v1.ResourceLogs{
			{
				Resource: &protoResource.Resource{
					Attributes: []*protoCommon.KeyValue{
						stringAttribute("service.name", o.serviceName),
					},
				},
				ScopeLogs: []*v1.ScopeLogs{
					{
						Scope:      &protoCommon.InstrumentationScope{Name: o.serviceName},
						LogRecords: records,
					},
				},
			},
		},
	}

	resp, err := o.logsClient.Export(ctx, req)
	if err != nil {
		switch status.Code(err) {
		case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument, codes.NotFound:
			return sink.OutcomeFailure, fmt.Errorf("%w: export rejected: %v", sink.ErrPermanent, err)
		default:
			return sink.OutcomeFailure, fmt.Errorf("failed to export batch: %w", err)
		}
	}
	if partial := resp.GetPartialSuccess(); partial != nil && partial.RejectedLogRecords > 0 {
		o.logger.Warn("Collector accepted batch partially",
			zap.Int64("rejected_log_records", partial.RejectedLogRecords),
			zap.String("error_message", partial.ErrorMessage),
		)
		return sink.OutcomePartial, nil
	}
	return sink.OutcomeSuccess, nil
}

func toLogRecord(envelope model.Envelope) *v1.LogRecord {
	switch envelope.Kind {
	case model.KindMetric:
		sample := envelope.Metric
		attributes := []*protoCommon.KeyValue{
			stringAttribute("telemetry.kind", string(model.KindMetric)),
			stringAttribute("metric.name", sample.Name),
			doubleAttribute("metric.value", sample.Value),
		}
		for key, value := range sample.Tags {
			attributes = append(attributes, stringAttribute("metric.tags."+key, value))
		}
		return &v1.LogRecord{
			TimeUnixNano:   uint64(sample.Timestamp.UnixNano()),
			SeverityNumber: v1.SeverityNumber_SEVERITY_NUMBER_INFO,
			SeverityText:   string(model.InfoLevel),
			Body:           stringValue(sample.Name),
			Attributes:     attributes,
		}
	case model.KindHealth:
		health := envelope.Health
		return &v1.LogRecord{
			TimeUnixNano:   uint64(health.Timestamp.UnixNano()),
			SeverityNumber: v1.SeverityNumber_SEVERITY_NUMBER_INFO,
			SeverityText:   string(model.InfoLevel),
			Body:           stringValue(health.Message),
			Attributes: []*protoCommon.KeyValue{
				stringAttribute("telemetry.kind", string(model.KindHealth)),
				stringAttribute("service.id", health.ServiceID),
				stringAttribute("health.status", string(health.Status)),
			},
		}
	default:
		event := envelope.Event
		attributes := []*protoCommon.KeyValue{
			stringAttribute("event.id", event.EventID),
			stringAttribute("event.component", string(event.Component)),
			stringAttribute("event.type", string(event.EventType)),
		}
		for key, value := range event.Data {
			attributes = append(attributes, stringAttribute("event.data."+key, fmt.Sprintf("%v", value)))
		}
		return &v1.LogRecord{
			TimeUnixNano:   uint64(event.Timestamp.UnixNano()),
			SeverityNumber: getSeverityNumber(event.Level),
			SeverityText:   string(event.Level),
			Body:           stringValue(event.Message),
			Attributes:     attributes,
			TraceId:        idBytes(event.TraceID, 16),
			SpanId:         idBytes(event.SpanID, 8),
		}
	}
}

func getSeverityNumber(level model.Level) v1.SeverityNumber {
	switch level {
	case model.DebugLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_DEBUG
	case model.InfoLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_INFO
	case model.WarningLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_WARN
	case model.ErrorLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_ERROR
	case model.CriticalLevel:
		return v1.SeverityNumber_SEVERITY_NUMBER_FATAL
	default:
		return v1.SeverityNumber_SEVERITY_NUMBER_INFO
	}
}

// idBytes converts a uuid-shaped id into the fixed-width binary form
// OTLP expects, truncating to size. Returns nil for ids that are absent
// or not hex so malformed input downgrades to an unlinked record.
func idBytes(id string, size int) []byte {
	stripped := strings.ReplaceAll(id, "-", "")
	decoded, err := hex.DecodeString(stripped)
	if err != nil || len(decoded) < size {
		return nil
	}
	return decoded[:size]
}

func stringAttribute(key string, value string) *protoCommon.KeyValue {
	return &protoCommon.KeyValue{
		Key:   key,
		Value: stringValue(value),
	}
}

func doubleAttribute(key string, value float64) *protoCommon.KeyValue {
	return &protoCommon.KeyValue{
		Key: key,
		Value: &protoCommon.AnyValue{
			Value: &protoCommon.AnyValue_DoubleValue{DoubleValue: value},
		},
	}
}

func stringValue(value string) *protoCommon.AnyValue {
	return &protoCommon.AnyValue{
		Value: &protoCommon.AnyValue_StringValue{StringValue: value},
	}
}
