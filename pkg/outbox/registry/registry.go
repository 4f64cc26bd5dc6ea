// Package registry maps outbox event types to their topic and payload schema.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/pkg/config"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	"github.com/angelmondragon/escrowhub-backend/pkg/outbox"
	"github.com/angelmondragon/escrowhub-backend/pkg/outbox/payloads"
)

// Route says where an event type is published and how its data decodes.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is a validated outbox row with its decoded payload.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
	topics []string
}

type nonRetryable struct{ err error }

func (e nonRetryable) Error() string { return "non-retryable: " + e.err.Error() }
func (e nonRetryable) Unwrap() error { return e.err }

// NewNonRetryableError marks err as permanent; the relay dead-letters the row
// instead of retrying it.
func NewNonRetryableError(err error) error {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	return nonRetryable{err: err}
}

func IsNonRetryable(err error) bool {
	var target nonRetryable
	return errors.As(err, &target)
}

type topicKind int

const (
	lifecycle topicKind = iota
	notification
)

type schema struct {
	aggregate  enums.OutboxAggregateType
	topic      topicKind
	newPayload func() any
}

func contractData() any  { return &payloads.ContractEvent{} }
func milestoneData() any { return &payloads.MilestoneEvent{} }
func paymentData() any   { return &payloads.PaymentStatusEvent{} }
func releaseData() any   { return &payloads.PaymentReleasedEvent{} }
func disputeData() any   { return &payloads.DisputeEvent{} }

// Lifecycle events feed downstream ledgers and reporting; notification
// events tell a counterparty that something needs their attention.
var schemas = map[enums.OutboxEventType]schema{
	enums.EventContractAccepted:          {enums.AggregateContract, lifecycle, contractData},
	enums.EventContractFundingStarted:    {enums.AggregateContract, lifecycle, contractData},
	enums.EventContractFunded:            {enums.AggregateContract, lifecycle, contractData},
	enums.EventContractCompleted:         {enums.AggregateContract, lifecycle, contractData},
	enums.EventMilestoneStarted:          {enums.AggregateMilestone, lifecycle, milestoneData},
	enums.EventPaymentReleased:           {enums.AggregatePayment, lifecycle, releaseData},
	enums.EventPaymentRefunded:           {enums.AggregatePayment, lifecycle, paymentData},
	enums.EventPaymentFailed:             {enums.AggregatePayment, lifecycle, paymentData},
	enums.EventContractAssigned:          {enums.AggregateContract, notification, contractData},
	enums.EventMilestoneSubmitted:        {enums.AggregateMilestone, notification, milestoneData},
	enums.EventMilestoneChangesRequested: {enums.AggregateMilestone, notification, milestoneData},
	enums.EventMilestoneApproved:         {enums.AggregateMilestone, notification, milestoneData},
	enums.EventDisputeOpened:             {enums.AggregateDispute, notification, disputeData},
	enums.EventDisputeResolved:           {enums.AggregateDispute, notification, disputeData},
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topicFor := map[topicKind]string{
		lifecycle:    strings.TrimSpace(cfg.EscrowTopic),
		notification: strings.TrimSpace(cfg.NotificationTopic),
	}
	if topicFor[lifecycle] == "" {
		return nil, fmt.Errorf("escrow topic is required")
	}
	if topicFor[notification] == "" {
		return nil, fmt.Errorf("notification topic is required")
	}

	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]Route, len(schemas))}
	seen := map[string]bool{}
	// Iterate the enum list so Topics has a stable order.
	for _, eventType := range enums.OutboxEventTypes() {
		sc, ok := schemas[eventType]
		if !ok {
			return nil, fmt.Errorf("event type %s has no route", eventType)
		}
		topic := topicFor[sc.topic]
		reg.routes[eventType] = Route{
			EventType:     eventType,
			AggregateType: sc.aggregate,
			Topic:         topic,
			newPayload:    sc.newPayload,
		}
		if !seen[topic] {
			seen[topic] = true
			reg.topics = append(reg.topics, topic)
		}
	}
	return reg, nil
}

// Topics lists the distinct topics in use.
func (r *EventRegistry) Topics() []string {
	return append([]string(nil), r.topics...)
}

// Resolve checks the row against its route and decodes the envelope data.
// Every failure is non-retryable since the row will never change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %q", event.EventType))
	case route.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("%s belongs to %s, row says %s", event.EventType, route.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("aggregate id missing"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("%s envelope has no data", event.EventType))
	}

	payload := route.newPayload()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s data: %w", event.EventType, err))
	}
	return &ResolvedEvent{Route: route, Envelope: envelope, Payload: payload}, nil
}
