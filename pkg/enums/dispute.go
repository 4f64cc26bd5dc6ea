package enums

import "fmt"

// DisputeStatus is linear: pending, process, resolved.
type DisputeStatus string

const (
	DisputeStatusPending  DisputeStatus = "pending"
	DisputeStatusProcess  DisputeStatus = "process"
	DisputeStatusResolved DisputeStatus = "resolved"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusPending,
	DisputeStatusProcess,
	DisputeStatusResolved,
}

// String implements fmt.Stringer.
func (s DisputeStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known DisputeStatus.
func (s DisputeStatus) IsValid() bool {
	for _, candidate := range validDisputeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the dispute still suspends milestone progress.
func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusPending || s == DisputeStatusProcess
}

// ParseDisputeStatus converts raw input into a DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	for _, candidate := range validDisputeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute status %q", value)
}

// DisputeOutcome names the prevailing party of a resolved dispute.
type DisputeOutcome string

const (
	DisputeOutcomeClient DisputeOutcome = "client"
	DisputeOutcomeVendor DisputeOutcome = "vendor"
)

var validDisputeOutcomes = []DisputeOutcome{
	DisputeOutcomeClient,
	DisputeOutcomeVendor,
}

// String implements fmt.Stringer.
func (o DisputeOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is a known DisputeOutcome.
func (o DisputeOutcome) IsValid() bool {
	for _, candidate := range validDisputeOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseDisputeOutcome converts raw input into a DisputeOutcome.
func ParseDisputeOutcome(value string) (DisputeOutcome, error) {
	for _, candidate := range validDisputeOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute outcome %q", value)
}
