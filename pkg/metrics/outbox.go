package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutboxOutcomePublished    = "published"
	OutboxOutcomeRetry        = "retry"
	OutboxOutcomeDeadLettered = "dead_lettered"
)

// OutboxMetrics counts relay outcomes per event type.
type OutboxMetrics struct {
	events  *prometheus.CounterVec
	batches prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_outbox_events_total",
		Help: "Outbox rows handled by the relay by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batches := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_outbox_batch_size",
		Help:    "Rows claimed per relay batch.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
	})
	reg.MustRegister(events, batches)
	return &OutboxMetrics{events: events, batches: batches}
}

func (m *OutboxMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *OutboxMetrics) ObserveBatch(size int) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(float64(size))
}
