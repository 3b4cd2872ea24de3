package local

import (
	"context"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/agentforge/telemetry/pkg/sink"
)

// TeeSink fans a batch out to several local sinks. Used to pair the
// console sink with the in-memory ring during fallback.
type TeeSink struct {
	sinks []sink.TelemetrySink
}

func NewTeeSink(sinks ...sink.TelemetrySink) *TeeSink {
	return &TeeSink{sinks: sinks}
}

func (t *TeeSink) Name() string {
	return "tee"
}

func (t *TeeSink) Send(ctx context.Context, batch []model.Envelope) (sink.Outcome, error) {
	for _, s := range t.sinks {
		// Local sinks never fail; ignore outcomes deliberately.
		_, _ = s.Send(ctx, batch)
	}
	return sink.OutcomeSuccess, nil
}
