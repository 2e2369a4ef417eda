package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking lifecycle event delivery.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditchain",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of lifecycle events delivered segmented by sink and type.",
			}, []string{"sink", "type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditchain",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of lifecycle events a sink failed to deliver.",
			}, []string{"sink"}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordPublished increments the delivery counter.
func (m *eventMetrics) RecordPublished(sink, eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(normaliseLabel(sink), normaliseLabel(eventType)).Inc()
}

// RecordDropped increments the drop counter for a sink.
func (m *eventMetrics) RecordDropped(sink string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(normaliseLabel(sink)).Inc()
}

func normaliseLabel(value string) string {
	normalized := strings.TrimSpace(strings.ToLower(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
