package local

import (
	"context"
	"sync"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/agentforge/telemetry/pkg/sink"
)

const DefaultRingCapacity = 1024

// RingSink retains the most recent envelopes in a fixed-size circular
// buffer, overwriting the oldest when full. It keeps a monotonically
// increasing write count so callers can tell how much history was lost.
// All methods are safe for concurrent use.
type RingSink struct {
	mu            sync.Mutex
	items         []model.Envelope
	capacity      int
	writePosition int
	totalWritten  uint64
}

func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingSink{
		items:    make([]model.Envelope, 0, capacity),
		capacity: capacity,
	}
}

func (r *RingSink) Name() string {
	return "ring"
}

func (r *RingSink) Send(_ context.Context, batch []model.Envelope) (sink.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, envelope := range batch {
		if len(r.items) < r.capacity {
			r.items = append(r.items, envelope)
		} else {
			r.items[r.writePosition] = envelope
		}
		r.writePosition = (r.writePosition + 1) % r.capacity
		r.totalWritten++
	}
	return sink.OutcomeSuccess, nil
}

// Items returns the retained envelopes in write order, oldest first.
func (r *RingSink) Items() []model.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Envelope, 0, len(r.items))
	if len(r.items) < r.capacity {
		out = append(out, r.items...)
		return out
	}
	out = append(out, r.items[r.writePosition:]...)
	out = append(out, r.items[:r.writePosition]...)
	return out
}

// TotalWritten is the count of envelopes ever written, including ones
// already overwritten.
func (r *RingSink) TotalWritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalWritten
}
