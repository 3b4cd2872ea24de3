package service

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agentforge/telemetry/pkg/monitor/model"
	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// DuplicateSuppressor drops events identical to one already admitted
// within the suppression window. Identity is (level, component, event
// type, message); structured data is deliberately excluded so that
// repeated failures with varying payloads still collapse.
type DuplicateSuppressor struct {
	cache      *ristretto.Cache
	window     time.Duration
	suppressed atomic.Int64
	logger     *zap.Logger
}

func NewDuplicateSuppressor(window time.Duration, logger *zap.Logger) (*DuplicateSuppressor, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create suppression cache: %w", err)
	}
	return &DuplicateSuppressor{
		cache:  cache,
		window: window,
		logger: logger,
	}, nil
}

// Admit returns false if an identical event was seen within the window.
// Ristretto sets are buffered, so a tight burst may admit a few
// duplicates before the key lands in the cache.
func (d *DuplicateSuppressor) Admit(event *model.Event) bool {
	key := signature(event)
	if _, found := d.cache.Get(key); found {
		d.suppressed.Add(1)
		return false
	}
	d.cache.SetWithTTL(key, struct{}{}, 1, d.window)
	return true
}

func (d *DuplicateSuppressor) SuppressedCount() int64 {
	return d.suppressed.Load()
}

func (d *DuplicateSuppressor) Close() {
	d.cache.Close()
}

func signature(event *model.Event) string {
	return strings.Join([]string{
		string(event.Level),
		string(event.Component),
		string(event.EventType),
		event.Message,
	}, "|")
}
