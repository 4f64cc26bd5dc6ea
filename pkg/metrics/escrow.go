package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records state transitions and money movement.
type EscrowMetrics struct {
	transitions    *prometheus.CounterVec
	releasedCents  prometheus.Counter
	processorCalls *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
}

// NewEscrowMetrics registers the escrow metrics on the provided registerer.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	if reg == nil {
		return &EscrowMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_transitions_total",
		Help: "Applied contract, milestone, payment and dispute transitions.",
	}, []string{"entity", "to"})
	releasedCents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrow_released_cents_total",
		Help: "Minor units released from escrow to vendors.",
	})
	processorCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_processor_calls_total",
		Help: "Payment processor calls by operation and outcome.",
	}, []string{"op", "outcome"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_webhook_events_total",
		Help: "Processor webhook events by kind and outcome.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(transitions, releasedCents, processorCalls, webhookEvents)
	return &EscrowMetrics{
		transitions:    transitions,
		releasedCents:  releasedCents,
		processorCalls: processorCalls,
		webhookEvents:  webhookEvents,
	}
}

// IncTransition counts one applied transition of entity into status to.
func (m *EscrowMetrics) IncTransition(entity, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(entity), normalizeLabel(to)).Inc()
}

// AddReleased adds cents to the released total. Non-positive values are ignored.
func (m *EscrowMetrics) AddReleased(cents int64) {
	if m == nil || m.releasedCents == nil || cents <= 0 {
		return
	}
	m.releasedCents.Add(float64(cents))
}

// ObserveProcessorCall records the outcome of one processor operation.
func (m *EscrowMetrics) ObserveProcessorCall(op string, err error) {
	if m == nil || m.processorCalls == nil {
		return
	}
	m.processorCalls.WithLabelValues(normalizeLabel(op), outcomeLabel(err)).Inc()
}

// ObserveWebhook records the outcome of one webhook event.
func (m *EscrowMetrics) ObserveWebhook(kind, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
