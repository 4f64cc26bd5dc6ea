package enums

import "fmt"

// ContractStatus tracks the lifecycle of an escrow contract.
type ContractStatus string

const (
	ContractStatusDraft             ContractStatus = "draft"
	ContractStatusOnboarding        ContractStatus = "onboarding"
	ContractStatusFundingPending    ContractStatus = "funding_pending"
	ContractStatusFundingProcessing ContractStatus = "funding_processing"
	ContractStatusFundingOnHold     ContractStatus = "funding_onhold"
	ContractStatusActive            ContractStatus = "active"
	ContractStatusInReview          ContractStatus = "in_review"
	ContractStatusCompleted         ContractStatus = "completed"
	ContractStatusCancelled         ContractStatus = "cancelled"
	ContractStatusDisputed          ContractStatus = "disputed"
	ContractStatusDisputedInProcess ContractStatus = "disputed_in_process"
	ContractStatusDisputedResolved  ContractStatus = "disputed_resolved"
)

var validContractStatuses = []ContractStatus{
	ContractStatusDraft,
	ContractStatusOnboarding,
	ContractStatusFundingPending,
	ContractStatusFundingProcessing,
	ContractStatusFundingOnHold,
	ContractStatusActive,
	ContractStatusInReview,
	ContractStatusCompleted,
	ContractStatusCancelled,
	ContractStatusDisputed,
	ContractStatusDisputedInProcess,
	ContractStatusDisputedResolved,
}

// ContractStatuses returns every known status in declaration order.
func ContractStatuses() []ContractStatus {
	out := make([]ContractStatus, len(validContractStatuses))
	copy(out, validContractStatuses)
	return out
}

// String implements fmt.Stringer.
func (s ContractStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ContractStatus.
func (s ContractStatus) IsValid() bool {
	for _, candidate := range validContractStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is absorbing.
func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusCompleted || s == ContractStatusCancelled
}

// ParseContractStatus converts raw input into a ContractStatus.
func ParseContractStatus(value string) (ContractStatus, error) {
	for _, candidate := range validContractStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid contract status %q", value)
}

// ContractType drives the platform fee percentage.
type ContractType string

const (
	ContractTypeServices ContractType = "services"
	ContractTypeProducts ContractType = "products"
)

var validContractTypes = []ContractType{
	ContractTypeServices,
	ContractTypeProducts,
}

// String implements fmt.Stringer.
func (t ContractType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known ContractType.
func (t ContractType) IsValid() bool {
	for _, candidate := range validContractTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseContractType converts raw input into a ContractType.
func ParseContractType(value string) (ContractType, error) {
	for _, candidate := range validContractTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid contract type %q", value)
}
