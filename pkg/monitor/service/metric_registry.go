package service

import (
	"sort"
	"sync"

	"github.com/agentforge/telemetry/pkg/monitor/model"
)

// maxRetainedSamples bounds per-metric sample history so long-running
// processes don't grow without limit.
const maxRetainedSamples = 1000

type MetricFilter struct {
	Name string
	Type model.MetricType
}

type MetricRegistry struct {
	mu      sync.Mutex
	metrics map[string]*model.Metric
}

func NewMetricRegistry() *MetricRegistry {
	return &MetricRegistry{
		metrics: make(map[string]*model.Metric),
	}
}

// Register declares a metric. Registering an existing name returns the
// existing definition unchanged.
func (r *MetricRegistry) Register(
	name string,
	description string,
	unit string,
	metricType model.MetricType,
) model.Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.metrics[name]; ok {
		return copyMetric(existing)
	}
	metric := &model.Metric{
		Name:        name,
		Description: description,
		Unit:        unit,
		Type:        metricType,
	}
	r.metrics[name] = metric
	return copyMetric(metric)
}

// Record appends a sample, auto-registering unknown names as gauges.
func (r *MetricRegistry) Record(sample model.MetricSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	metric, ok := r.metrics[sample.Name]
	if !ok {
		metric = &model.Metric{
			Name: sample.Name,
			Type: model.MetricTypeGauge,
		}
		r.metrics[sample.Name] = metric
	}
	metric.Samples = append(metric.Samples, sample)
	if len(metric.Samples) > maxRetainedSamples {
		metric.Samples = metric.Samples[len(metric.Samples)-maxRetainedSamples:]
	}
}

func (r *MetricRegistry) UnitFor(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if metric, ok := r.metrics[name]; ok {
		return metric.Unit
	}
	return ""
}

// List returns copies of registered metrics matching the filter, sorted
// by name.
func (r *MetricRegistry) List(filter MetricFilter) []model.Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Metric, 0, len(r.metrics))
	for _, metric := range r.metrics {
		if filter.Name != "" && metric.Name != filter.Name {
			continue
		}
		if filter.Type != "" && metric.Type != filter.Type {
			continue
		}
		out = append(out, copyMetric(metric))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyMetric(metric *model.Metric) model.Metric {
	out := *metric
	out.Samples = make([]model.MetricSample, len(metric.Samples))
	copy(out.Samples, metric.Samples)
	return out
}
