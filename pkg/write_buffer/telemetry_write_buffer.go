package write_buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"go.uber.org/zap"
)

const DefaultPendingQueueSize = 1000

// DeliverFunc hands a flushed batch to the delivery pipeline. It runs
// on a delivery goroutine, never on a producer, and owns the batch.
type DeliverFunc func(ctx context.Context, batch []model.Envelope)

type BufferStats struct {
	Enqueued uint64 `json:"enqueued"`
	Dropped  uint64 `json:"dropped"`
	Flushes  uint64 `json:"flushes"`
	Pending  int    `json:"pending"`
}

// TelemetryWriteBuffer accumulates telemetry items from many concurrent
// producers and flushes them in batches. Enqueue never blocks and never
// fails; when the pending queue is full the oldest unsent item is
// dropped (bounded loss, liveness over completeness).
type TelemetryWriteBuffer interface {
	Enqueue(item model.Envelope)
	// RequestFlush signals the background loop without waiting for the
	// flush to happen. Used for critical events.
	RequestFlush()
	// Flush synchronously drains everything pending, dispatching as
	// many batches as needed.
	Flush(ctx context.Context)
	// Shutdown performs a final flush, waits for in-flight deliveries
	// bounded by ctx, and stops the background timer.
	Shutdown(ctx context.Context) error
	Stats() BufferStats
}

type TelemetryWriteBufferImpl struct {
	mu      sync.Mutex
	pending []model.Envelope

	batchSize     int
	maxPending    int
	flushInterval time.Duration

	deliver  DeliverFunc
	sem      chan struct{}
	inFlight sync.WaitGroup

	flushCh  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	flushes  atomic.Uint64

	logger *zap.Logger
}

func NewTelemetryWriteBufferImpl(
	batchSize int,
	maxPending int,
	flushInterval time.Duration,
	maxInFlight int,
	deliver DeliverFunc,
	logger *zap.Logger,
) *TelemetryWriteBufferImpl {
	if maxPending < batchSize {
		maxPending = DefaultPendingQueueSize
	}
	buffer := &TelemetryWriteBufferImpl{
		pending:       make([]model.Envelope, 0, batchSize),
		batchSize:     batchSize,
		maxPending:    maxPending,
		flushInterval: flushInterval,
		deliver:       deliver,
		sem:           make(chan struct{}, maxInFlight),
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
		logger:        logger,
	}
	go buffer.run()
	return buffer
}

func (b *TelemetryWriteBufferImpl) Enqueue(item model.Envelope) {
	b.mu.Lock()
	if len(b.pending) >= b.maxPending {
		b.pending = b.pending[1:]
		b.dropped.Add(1)
	}
	b.pending = append(b.pending, item)
	size := len(b.pending)
	b.mu.Unlock()

	b.enqueued.Add(1)
	if size >= b.batchSize {
		b.RequestFlush()
	}
}

func (b *TelemetryWriteBufferImpl) RequestFlush() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

func (b *TelemetryWriteBufferImpl) run() {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-b.flushCh:
			b.flushOnce(context.Background())
			// Producers may have outrun the batch size again while the
			// last batch was being cut.
			b.mu.Lock()
			remaining := len(b.pending)
			b.mu.Unlock()
			if remaining >= b.batchSize {
				b.RequestFlush()
			}
		case <-ticker.C:
			b.flushOnce(context.Background())
		}
	}
}

// flushOnce swaps out up to one batch worth of pending items and hands
// it to a delivery goroutine. The critical section is O(batch) copying
// only; delivery I/O happens outside the lock. Returns the number of
// items taken.
func (b *TelemetryWriteBufferImpl) flushOnce(ctx context.Context) int {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return 0
	}
	n := len(b.pending)
	if n > b.batchSize {
		n = b.batchSize
	}
	batch := make([]model.Envelope, n)
	copy(batch, b.pending[:n])
	b.pending = append(b.pending[:0], b.pending[n:]...)
	b.mu.Unlock()

	b.flushes.Add(1)
	b.sem <- struct{}{}
	b.inFlight.Add(1)
	go func() {
		defer func() {
			<-b.sem
			b.inFlight.Done()
		}()
		b.deliver(ctx, batch)
	}()
	return n
}

func (b *TelemetryWriteBufferImpl) Flush(ctx context.Context) {
	for b.flushOnce(ctx) > 0 {
	}
}

func (b *TelemetryWriteBufferImpl) Shutdown(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.Flush(ctx)

	drained := make(chan struct{})
	go func() {
		b.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		b.logger.Warn("Shutdown drain timed out with deliveries still in flight")
		return ctx.Err()
	}
}

func (b *TelemetryWriteBufferImpl) Stats() BufferStats {
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()
	return BufferStats{
		Enqueued: b.enqueued.Load(),
		Dropped:  b.dropped.Load(),
		Flushes:  b.flushes.Load(),
		Pending:  pending,
	}
}
