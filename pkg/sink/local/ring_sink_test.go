package local

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/agentforge/telemetry/pkg/sink"
	"github.com/stretchr/testify/assert"
)

func numberedBatch(start int, n int) []model.Envelope {
	batch := make([]model.Envelope, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, model.EventEnvelope(model.Event{
			EventID:   fmt.Sprintf("event-%d", start+i),
			Timestamp: time.Now().UTC(),
			Level:     model.InfoLevel,
			Component: model.ComponentSystem,
			EventType: model.EventTypeSystem,
			Message:   fmt.Sprintf("message-%d", start+i),
		}))
	}
	return batch
}

func TestRingSink(t *testing.T) {
	t.Run("should retain items in write order below capacity", func(t *testing.T) {
		ring := NewRingSink(10)
		outcome, err := ring.Send(context.Background(), numberedBatch(0, 3))
		assert.NoError(t, err)
		assert.Equal(t, sink.OutcomeSuccess, outcome)

		items := ring.Items()
		assert.Equal(t, 3, len(items))
		assert.Equal(t, "message-0", items[0].Event.Message)
		assert.Equal(t, "message-2", items[2].Event.Message)
		assert.Equal(t, uint64(3), ring.TotalWritten())
	})

	t.Run("should overwrite the oldest items when full", func(t *testing.T) {
		ring := NewRingSink(5)
		_, err := ring.Send(context.Background(), numberedBatch(0, 8))
		assert.NoError(t, err)

		items := ring.Items()
		assert.Equal(t, 5, len(items))
		assert.Equal(t, "message-3", items[0].Event.Message)
		assert.Equal(t, "message-7", items[4].Event.Message)
		assert.Equal(t, uint64(8), ring.TotalWritten())
	})

	t.Run("should fall back to the default capacity", func(t *testing.T) {
		ring := NewRingSink(0)
		_, err := ring.Send(context.Background(), numberedBatch(0, 1))
		assert.NoError(t, err)
		assert.Equal(t, 1, len(ring.Items()))
	})
}
