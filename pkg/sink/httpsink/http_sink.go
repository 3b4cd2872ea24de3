package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/agentforge/telemetry/pkg/sink"
	"go.uber.org/zap"
)

const projectHeader = "X-Telemetry-Project"

// HTTPSink posts batches as a JSON array to a backend ingest endpoint.
// This is the reference wire shape: events serialize to
// {event_id, timestamp, level, component, event_type, message, data,
// tags, trace_id?, span_id?}.
type HTTPSink struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	projectID string
	logger    *zap.Logger
}

// ingestResponse is the backend acknowledgement. A 2xx response with
// rejected items is reported as a partial outcome, not a success.
type ingestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

func NewHTTPSink(
	endpoint string,
	apiKey string,
	projectID string,
	logger *zap.Logger,
) *HTTPSink {
	return &HTTPSink{
		client:    &http.Client{},
		endpoint:  endpoint,
		apiKey:    apiKey,
		projectID: projectID,
		logger:    logger,
	}
}

func (h *HTTPSink) Name() string {
	return "http"
}

func (h *HTTPSink) Send(ctx context.Context, batch []model.Envelope) (sink.Outcome, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return sink.OutcomeFailure, fmt.Errorf("%w: failed to marshal batch: %v", sink.ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return sink.OutcomeFailure, fmt.Errorf("failed to build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	if h.projectID != "" {
		req.Header.Set(projectHeader, h.projectID)
	}

	res, err := h.client.Do(req)
	if err != nil {
		return sink.OutcomeFailure, fmt.Errorf("failed to post batch: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return h.parseAck(res.Body, len(batch))
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusRequestTimeout:
		// Rate limiting and request timeouts are transient.
		return sink.OutcomeFailure, fmt.Errorf("backend rejected batch with status %d", res.StatusCode)
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return sink.OutcomeFailure, fmt.Errorf("%w: backend returned status %d", sink.ErrPermanent, res.StatusCode)
	default:
		return sink.OutcomeFailure, fmt.Errorf("backend returned status %d", res.StatusCode)
	}
}

func (h *HTTPSink) parseAck(body io.Reader, batchSize int) (sink.Outcome, error) {
	var ack ingestResponse
	if err := json.NewDecoder(body).Decode(&ack); err != nil {
		// An empty or opaque 2xx body still counts as full acceptance.
		return sink.OutcomeSuccess, nil
	}
	if ack.Rejected > 0 {
		h.logger.Warn("Backend accepted batch partially",
			zap.Int("batch_size", batchSize),
			zap.Int("accepted", ack.Accepted),
			zap.Int("rejected", ack.Rejected),
		)
		return sink.OutcomePartial, nil
	}
	return sink.OutcomeSuccess, nil
}
