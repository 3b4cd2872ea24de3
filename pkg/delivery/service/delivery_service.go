package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	breakerService "github.com/agentforge/telemetry/pkg/breaker/service"
	"github.com/agentforge/telemetry/pkg/clock"
	"github.com/agentforge/telemetry/pkg/event_bus"
	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/agentforge/telemetry/pkg/sink"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DeliveryOutcome is published on the event bus after every delivery
// attempt sequence so the facade can self-report pipeline health.
type DeliveryOutcome struct {
	Sink     string       `json:"sink"`
	Outcome  sink.Outcome `json:"outcome"`
	Items    int          `json:"items"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}

type DeliveryStats struct {
	DeliveredBatches uint64 `json:"delivered_batches"`
	DroppedBatches   uint64 `json:"dropped_batches"`
	FallbackBatches  uint64 `json:"fallback_batches"`
	RetryBuffered    int    `json:"retry_buffered"`
}

// SelfReportFunc re-enters a synthesized event into the batching
// engine. Delivery failures are observable only through these events
// and health introspection, never through errors at producer call
// sites.
type SelfReportFunc func(event model.Event)

type DeliveryService interface {
	Deliver(ctx context.Context, batch []model.Envelope)
	Stats() DeliveryStats
}

type DeliveryServiceImpl struct {
	remote   sink.TelemetrySink
	fallback sink.TelemetrySink
	circuit  breakerService.CircuitBreaker
	bus      event_bus.TelemetryEventBus[DeliveryOutcome]

	maxRetries     int
	attemptTimeout time.Duration
	giveup         time.Duration
	clk            clock.Clock

	mu          sync.Mutex
	retryBuffer [][]model.Envelope
	retryCap    int

	delivered atomic.Uint64
	dropped   atomic.Uint64
	fellBack  atomic.Uint64

	selfReport SelfReportFunc
	ids        clock.IDSource
	logger     *zap.Logger
}

// NewDeliveryServiceImpl builds the pipeline. remote may be nil, in
// which case every batch routes to the fallback sink. SetSelfReport
// must be called before the first Deliver.
func NewDeliveryServiceImpl(
	remote sink.TelemetrySink,
	fallback sink.TelemetrySink,
	circuit breakerService.CircuitBreaker,
	bus event_bus.TelemetryEventBus[DeliveryOutcome],
	maxRetries int,
	attemptTimeout time.Duration,
	giveup time.Duration,
	retryBufferSize int,
	clk clock.Clock,
	ids clock.IDSource,
	logger *zap.Logger,
) *DeliveryServiceImpl {
	return &DeliveryServiceImpl{
		remote:         remote,
		fallback:       fallback,
		circuit:        circuit,
		bus:            bus,
		maxRetries:     maxRetries,
		attemptTimeout: attemptTimeout,
		giveup:         giveup,
		retryCap:       retryBufferSize,
		clk:            clk,
		ids:            ids,
		logger:         logger,
	}
}

func (d *DeliveryServiceImpl) SetSelfReport(report SelfReportFunc) {
	d.selfReport = report
}

func (d *DeliveryServiceImpl) Deliver(ctx context.Context, batch []model.Envelope) {
	d.deliver(ctx, batch, true)
}

func (d *DeliveryServiceImpl) deliver(ctx context.Context, batch []model.Envelope, drainAfter bool) {
	if len(batch) == 0 {
		return
	}
	if d.remote == nil {
		d.sendFallback(ctx, batch)
		return
	}

	if openedAt, open := d.circuit.OpenSince(); open && d.clk.Now().Sub(openedAt) >= d.giveup {
		// The backend has been down long enough that holding out for it
		// costs more than losing remote visibility.
		d.sendFallback(ctx, batch)
		return
	}

	if !d.circuit.AllowRequest() {
		d.bufferForRetry(batch)
		d.publishOutcome(DeliveryOutcome{
			Sink:    d.remote.Name(),
			Outcome: sink.OutcomeFailure,
			Items:   len(batch),
			Error:   "circuit open, delivery short-circuited",
		})
		return
	}

	outcome, attempts, err := d.attempt(ctx, batch)
	if err != nil {
		d.dropped.Add(1)
		d.logger.Error("Dropping batch after exhausting delivery attempts",
			zap.Int("items", len(batch)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		d.report(model.ErrorLevel, "Telemetry batch delivery failed", map[string]any{
			"sink":     d.remote.Name(),
			"items":    len(batch),
			"attempts": attempts,
			"error":    err.Error(),
		})
		d.publishOutcome(DeliveryOutcome{
			Sink:     d.remote.Name(),
			Outcome:  sink.OutcomeFailure,
			Items:    len(batch),
			Attempts: attempts,
			Error:    err.Error(),
		})
		return
	}

	d.delivered.Add(1)
	if outcome == sink.OutcomePartial {
		d.report(model.WarningLevel, "Telemetry batch delivered partially", map[string]any{
			"sink":  d.remote.Name(),
			"items": len(batch),
		})
	}
	d.publishOutcome(DeliveryOutcome{
		Sink:     d.remote.Name(),
		Outcome:  outcome,
		Items:    len(batch),
		Attempts: attempts,
	})

	if drainAfter {
		d.drainRetryBuffer(ctx)
	}
}

// attempt sends the batch with exponential backoff. The backoff sleep
// respects ctx cancellation, but each transport call runs under its own
// timeout detached from ctx so shutdown never aborts a send mid-flight.
func (d *DeliveryServiceImpl) attempt(ctx context.Context, batch []model.Envelope) (sink.Outcome, int, error) {
	var outcome sink.Outcome
	attempts := 0

	operation := func() error {
		attempts++
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.attemptTimeout)
		defer cancel()

		result, err := d.remote.Send(sendCtx, batch)
		if err != nil {
			d.circuit.RecordFailure()
			if sink.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		d.circuit.RecordSuccess()
		outcome = result
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return sink.OutcomeFailure, attempts, err
	}
	return outcome, attempts, nil
}

func (d *DeliveryServiceImpl) sendFallback(ctx context.Context, batch []model.Envelope) {
	d.fellBack.Add(1)
	outcome, err := d.fallback.Send(ctx, batch)
	if err != nil {
		// Local sinks are contractually infallible; log and move on.
		d.logger.Error("Fallback sink rejected batch", zap.Error(err))
		return
	}
	d.publishOutcome(DeliveryOutcome{
		Sink:    d.fallback.Name(),
		Outcome: outcome,
		Items:   len(batch),
	})
}

func (d *DeliveryServiceImpl) bufferForRetry(batch []model.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.retryCap == 0 {
		d.dropped.Add(1)
		return
	}
	if len(d.retryBuffer) >= d.retryCap {
		d.retryBuffer = d.retryBuffer[1:]
		d.dropped.Add(1)
	}
	d.retryBuffer = append(d.retryBuffer, batch)
}

// drainRetryBuffer replays batches parked while the circuit was open.
// Each replay goes through the full gate again, so a re-opened circuit
// simply re-parks the remainder.
func (d *DeliveryServiceImpl) drainRetryBuffer(ctx context.Context) {
	for {
		d.mu.Lock()
		if len(d.retryBuffer) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.retryBuffer[0]
		d.retryBuffer = d.retryBuffer[1:]
		d.mu.Unlock()

		if !d.circuit.AllowRequest() {
			d.bufferForRetry(batch)
			return
		}
		outcome, attempts, err := d.attempt(ctx, batch)
		if err != nil {
			d.bufferForRetry(batch)
			d.publishOutcome(DeliveryOutcome{
				Sink:     d.remote.Name(),
				Outcome:  sink.OutcomeFailure,
				Items:    len(batch),
				Attempts: attempts,
				Error:    err.Error(),
			})
			return
		}
		d.delivered.Add(1)
		d.publishOutcome(DeliveryOutcome{
			Sink:     d.remote.Name(),
			Outcome:  outcome,
			Items:    len(batch),
			Attempts: attempts,
		})
	}
}

func (d *DeliveryServiceImpl) report(level model.Level, message string, data map[string]any) {
	if d.selfReport == nil {
		return
	}
	d.selfReport(model.Event{
		EventID:   d.ids.NewEventID(),
		Timestamp: d.clk.Now(),
		Level:     level,
		Component: model.ComponentTelemetry,
		EventType: model.EventTypeDelivery,
		Message:   message,
		Data:      data,
	})
}

func (d *DeliveryServiceImpl) publishOutcome(outcome DeliveryOutcome) {
	if err := d.bus.Publish(event_bus.DeliveryOutcomeTopic, outcome); err != nil {
		d.logger.Error("Failed to publish delivery outcome", zap.Error(err))
	}
}

func (d *DeliveryServiceImpl) Stats() DeliveryStats {
	d.mu.Lock()
	retryBuffered := len(d.retryBuffer)
	d.mu.Unlock()
	return DeliveryStats{
		DeliveredBatches: d.delivered.Load(),
		DroppedBatches:   d.dropped.Load(),
		FallbackBatches:  d.fellBack.Load(),
		RetryBuffered:    retryBuffered,
	}
}
