package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for Beacon, backed by any go-utils
// MetricFactory.
type Metrics struct {
	AttemptsTotal        gu.Counter
	DuplicatesSuppressed gu.Counter
	SendLatency          gu.Histogram
	QueueDepth           gu.Gauge
}

// NewMetrics creates Beacon metric instruments using the supplied factory.
// Pass metrics.NewMetricsCollector() for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		AttemptsTotal:        factory.Counter("beacon_attempts_total"),
		DuplicatesSuppressed: factory.Counter("beacon_duplicates_suppressed_total"),
		SendLatency:          factory.Histogram("beacon_send_latency_seconds"),
		QueueDepth:           factory.Gauge("beacon_queue_depth"),
	}
}

// RecordAttempt records a send attempt with the given outcome and latency.
func (m *Metrics) RecordAttempt(status string, latencySeconds float64) {
	m.AttemptsTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.SendLatency.Observe(latencySeconds)
}
