package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateContract  OutboxAggregateType = "contract"
	AggregateMilestone OutboxAggregateType = "milestone"
	AggregatePayment   OutboxAggregateType = "payment"
	AggregateDispute   OutboxAggregateType = "dispute"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateContract,
	AggregateMilestone,
	AggregatePayment,
	AggregateDispute,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventContractAssigned          OutboxEventType = "contract.assigned"
	EventContractAccepted          OutboxEventType = "contract.accepted"
	EventContractFundingStarted    OutboxEventType = "contract.funding_started"
	EventContractFunded            OutboxEventType = "contract.funded"
	EventContractCompleted         OutboxEventType = "contract.completed"
	EventMilestoneStarted          OutboxEventType = "milestone.started"
	EventMilestoneSubmitted        OutboxEventType = "milestone.submitted"
	EventMilestoneChangesRequested OutboxEventType = "milestone.changes_requested"
	EventMilestoneApproved         OutboxEventType = "milestone.approved"
	EventPaymentReleased           OutboxEventType = "payment.released"
	EventPaymentRefunded           OutboxEventType = "payment.refunded"
	EventPaymentFailed             OutboxEventType = "payment.failed"
	EventDisputeOpened             OutboxEventType = "dispute.opened"
	EventDisputeResolved           OutboxEventType = "dispute.resolved"
)

var validOutboxEventTypes = []OutboxEventType{
	EventContractAssigned,
	EventContractAccepted,
	EventContractFundingStarted,
	EventContractFunded,
	EventContractCompleted,
	EventMilestoneStarted,
	EventMilestoneSubmitted,
	EventMilestoneChangesRequested,
	EventMilestoneApproved,
	EventPaymentReleased,
	EventPaymentRefunded,
	EventPaymentFailed,
	EventDisputeOpened,
	EventDisputeResolved,
}

// OutboxEventTypes returns every known event type in declaration order.
func OutboxEventTypes() []OutboxEventType {
	out := make([]OutboxEventType, len(validOutboxEventTypes))
	copy(out, validOutboxEventTypes)
	return out
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// DeadLetterReason records why the relay stopped retrying an event.
type DeadLetterReason string

const (
	DeadLetterMaxAttempts  DeadLetterReason = "max_attempts"
	DeadLetterNonRetryable DeadLetterReason = "non_retryable"
)

func (r DeadLetterReason) IsValid() bool {
	return r == DeadLetterMaxAttempts || r == DeadLetterNonRetryable
}
