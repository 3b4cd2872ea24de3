package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/agentforge/telemetry/pkg/sink"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

const DefaultIndexName = "telemetry_events"

// ElasticSink bulk-indexes batches into a single Elasticsearch index.
type ElasticSink struct {
	es        *elasticsearch.Client
	indexName string
	logger    *zap.Logger
}

func NewElasticSink(
	es *elasticsearch.Client,
	indexName string,
	logger *zap.Logger,
) *ElasticSink {
	if indexName == "" {
		indexName = DefaultIndexName
	}
	return &ElasticSink{
		es:        es,
		indexName: indexName,
		logger:    logger,
	}
}

func (e *ElasticSink) Name() string {
	return "elasticsearch"
}

func (e *ElasticSink) Send(ctx context.Context, batch []model.Envelope) (sink.Outcome, error) {
	var buf bytes.Buffer
	for _, envelope := range batch {
		meta := map[string]interface{}{"index": map[string]interface{}{}}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return sink.OutcomeFailure, fmt.Errorf("%w: error marshaling bulk meta: %v", sink.ErrPermanent, err)
		}
		buf.Write(metaJSON)
		buf.WriteByte('\n')

		docJSON, err := json.Marshal(envelope)
		if err != nil {
			return sink.OutcomeFailure, fmt.Errorf("%w: error marshaling envelope: %v", sink.ErrPermanent, err)
		}
		buf.Write(docJSON)
		buf.WriteByte('\n')
	}

	res, err := e.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		e.es.Bulk.WithIndex(e.indexName),
		e.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return sink.OutcomeFailure, fmt.Errorf("failed to bulk index batch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != 429 {
			return sink.OutcomeFailure, fmt.Errorf("%w: bulk index error: %s", sink.ErrPermanent, res.String())
		}
		return sink.OutcomeFailure, fmt.Errorf("bulk index error: %s", res.String())
	}

	var ack struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&ack); err == nil && ack.Errors {
		e.logger.Warn("Bulk index accepted batch with item-level errors",
			zap.Int("batch_size", len(batch)),
		)
		return sink.OutcomePartial, nil
	}
	return sink.OutcomeSuccess, nil
}
