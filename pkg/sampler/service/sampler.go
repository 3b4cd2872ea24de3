package service

import (
	"math/rand"
	"sync"
	"time"

	"github.com/agentforge/telemetry/pkg/monitor/model"
)

// Sampler is the admission gate applied after the minimum-level filter.
type Sampler interface {
	Admit(level model.Level) bool
}

// ProbabilisticSampler admits debug and info events with probability
// equal to the configured rate. Warning and above are always admitted:
// actionable signals must never depend on the random draw.
type ProbabilisticSamplerImpl struct {
	rate float64
	mu   sync.Mutex
	rng  *rand.Rand
}

func NewProbabilisticSamplerImpl(rate float64) *ProbabilisticSamplerImpl {
	return &ProbabilisticSamplerImpl{
		rate: rate,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *ProbabilisticSamplerImpl) Admit(level model.Level) bool {
	if level.AtLeast(model.WarningLevel) {
		return true
	}
	if s.rate >= 1.0 {
		return true
	}
	if s.rate <= 0.0 {
		return false
	}
	s.mu.Lock()
	draw := s.rng.Float64()
	s.mu.Unlock()
	return draw < s.rate
}
