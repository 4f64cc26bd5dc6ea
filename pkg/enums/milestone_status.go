package enums

import "fmt"

// MilestoneStatus tracks the lifecycle of a single contract milestone.
type MilestoneStatus string

const (
	MilestoneStatusPending           MilestoneStatus = "pending"
	MilestoneStatusWorking           MilestoneStatus = "working"
	MilestoneStatusReadyForReview    MilestoneStatus = "ready_for_review"
	MilestoneStatusChangeRequested   MilestoneStatus = "change_requested"
	MilestoneStatusApproved          MilestoneStatus = "approved"
	MilestoneStatusPaymentReleased   MilestoneStatus = "payment_released"
	MilestoneStatusDisputed          MilestoneStatus = "disputed"
	MilestoneStatusDisputedInProcess MilestoneStatus = "disputed_in_process"
	MilestoneStatusDisputedResolved  MilestoneStatus = "disputed_resolved"
)

var validMilestoneStatuses = []MilestoneStatus{
	MilestoneStatusPending,
	MilestoneStatusWorking,
	MilestoneStatusReadyForReview,
	MilestoneStatusChangeRequested,
	MilestoneStatusApproved,
	MilestoneStatusPaymentReleased,
	MilestoneStatusDisputed,
	MilestoneStatusDisputedInProcess,
	MilestoneStatusDisputedResolved,
}

// MilestoneStatuses returns every known status in declaration order.
func MilestoneStatuses() []MilestoneStatus {
	out := make([]MilestoneStatus, len(validMilestoneStatuses))
	copy(out, validMilestoneStatuses)
	return out
}

// String implements fmt.Stringer.
func (s MilestoneStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known MilestoneStatus.
func (s MilestoneStatus) IsValid() bool {
	for _, candidate := range validMilestoneStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsApprovedOrLater reports whether the milestone has cleared client review.
func (s MilestoneStatus) IsApprovedOrLater() bool {
	return s == MilestoneStatusApproved || s == MilestoneStatusPaymentReleased
}

// ParseMilestoneStatus converts raw input into a MilestoneStatus.
func ParseMilestoneStatus(value string) (MilestoneStatus, error) {
	for _, candidate := range validMilestoneStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid milestone status %q", value)
}

// MilestoneEvent names an action applied to a milestone.
type MilestoneEvent string

const (
	MilestoneEventStart          MilestoneEvent = "start"
	MilestoneEventSubmit         MilestoneEvent = "submit"
	MilestoneEventRequestChanges MilestoneEvent = "request_changes"
	MilestoneEventApprove        MilestoneEvent = "approve"
	MilestoneEventRelease        MilestoneEvent = "release"
	MilestoneEventDispute        MilestoneEvent = "dispute"
	MilestoneEventProcess        MilestoneEvent = "process"
	MilestoneEventResolve        MilestoneEvent = "resolve"
	MilestoneEventResume         MilestoneEvent = "resume"
)

var validMilestoneEvents = []MilestoneEvent{
	MilestoneEventStart,
	MilestoneEventSubmit,
	MilestoneEventRequestChanges,
	MilestoneEventApprove,
	MilestoneEventRelease,
	MilestoneEventDispute,
	MilestoneEventProcess,
	MilestoneEventResolve,
	MilestoneEventResume,
}

// MilestoneEvents returns every known event in declaration order.
func MilestoneEvents() []MilestoneEvent {
	out := make([]MilestoneEvent, len(validMilestoneEvents))
	copy(out, validMilestoneEvents)
	return out
}

// String implements fmt.Stringer.
func (e MilestoneEvent) String() string {
	return string(e)
}

// IsValid reports whether the value is a known MilestoneEvent.
func (e MilestoneEvent) IsValid() bool {
	for _, candidate := range validMilestoneEvents {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseMilestoneEvent converts raw input into a MilestoneEvent.
func ParseMilestoneEvent(value string) (MilestoneEvent, error) {
	for _, candidate := range validMilestoneEvents {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid milestone event %q", value)
}
