package service

import (
	"sync"
	"time"

	"github.com/agentforge/telemetry/pkg/clock"
	"go.uber.org/zap"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Snapshot is a point-in-time copy of the breaker state for health
// introspection.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker gates outbound delivery attempts. AllowRequest is the
// single read entry point; RecordSuccess and RecordFailure are the only
// mutators. Safe for concurrent use by multiple in-flight deliveries;
// at most one trial request is permitted while half-open.
type CircuitBreaker interface {
	AllowRequest() bool
	RecordSuccess()
	RecordFailure()
	Snapshot() Snapshot
	// OpenSince reports when the circuit last opened, false while the
	// circuit is not open.
	OpenSince() (time.Time, bool)
}

type CircuitBreakerImpl struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool

	failureThreshold int
	recoveryTimeout  time.Duration
	clk              clock.Clock
	logger           *zap.Logger
}

func NewCircuitBreakerImpl(
	failureThreshold int,
	recoveryTimeout time.Duration,
	clk clock.Clock,
	logger *zap.Logger,
) *CircuitBreakerImpl {
	return &CircuitBreakerImpl{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		clk:              clk,
		logger:           logger,
	}
}

func (cb *CircuitBreakerImpl) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clk.Now().Sub(cb.openedAt) < cb.recoveryTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.trialInFlight = true
		cb.logger.Info("Circuit breaker moved to half-open, allowing trial delivery")
		return true
	case StateHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return false
	}
}

func (cb *CircuitBreakerImpl) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		cb.logger.Info("Circuit breaker closed after successful delivery")
	}
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.trialInFlight = false
}

func (cb *CircuitBreakerImpl) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
	if cb.state == StateHalfOpen {
		// Failed trial: back to open, restart the recovery timer.
		cb.state = StateOpen
		cb.openedAt = cb.clk.Now()
		cb.logger.Warn("Circuit breaker re-opened after failed trial delivery")
		return
	}
	cb.consecutiveFailures++
	if cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = StateOpen
		cb.openedAt = cb.clk.Now()
		cb.logger.Warn(
			"Circuit breaker opened",
			zap.Int("consecutive_failures", cb.consecutiveFailures),
		)
	}
}

func (cb *CircuitBreakerImpl) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
	}
}

func (cb *CircuitBreakerImpl) OpenSince() (time.Time, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return time.Time{}, false
	}
	return cb.openedAt, true
}
