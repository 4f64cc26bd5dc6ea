package contracts

import (
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
)

var edges = map[enums.ContractStatus][]enums.ContractStatus{
	enums.ContractStatusDraft:             {enums.ContractStatusOnboarding},
	enums.ContractStatusOnboarding:        {enums.ContractStatusFundingPending, enums.ContractStatusCancelled},
	enums.ContractStatusFundingPending:    {enums.ContractStatusFundingProcessing, enums.ContractStatusCancelled},
	enums.ContractStatusFundingProcessing: {enums.ContractStatusFundingOnHold, enums.ContractStatusActive},
	enums.ContractStatusFundingOnHold:     {enums.ContractStatusFundingProcessing, enums.ContractStatusActive},
	enums.ContractStatusActive:            {enums.ContractStatusInReview},
	enums.ContractStatusInReview:          {enums.ContractStatusCompleted, enums.ContractStatusCancelled, enums.ContractStatusDisputed},
	enums.ContractStatusDisputed:          {enums.ContractStatusDisputedInProcess, enums.ContractStatusDisputedResolved},
	enums.ContractStatusDisputedInProcess: {enums.ContractStatusDisputedResolved},
	enums.ContractStatusDisputedResolved:  {enums.ContractStatusActive},
}

// CanTransition reports whether from -> to is a listed edge.
func CanTransition(from, to enums.ContractStatus) bool {
	for _, candidate := range edges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Transition validates a single contract status edge.
func Transition(from, to enums.ContractStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract transition not allowed").
		WithDetails(map[string]any{
			"entity": "contract",
			"from":   from,
			"to":     to,
		})
}

// ValidatePath checks every edge of from -> path[0] -> path[1] ...
func ValidatePath(from enums.ContractStatus, path ...enums.ContractStatus) error {
	current := from
	for _, next := range path {
		if err := Transition(current, next); err != nil {
			return err
		}
		current = next
	}
	return nil
}

// Derive returns the walk implied by the aggregate milestone state. An empty
// result means the contract status already reflects its milestones.
func Derive(status enums.ContractStatus, milestones []models.Milestone) []enums.ContractStatus {
	if len(milestones) == 0 {
		return nil
	}
	var walk []enums.ContractStatus
	current := status
	if current == enums.ContractStatusActive && allAtLeastApproved(milestones) {
		walk = append(walk, enums.ContractStatusInReview)
		current = enums.ContractStatusInReview
	}
	if current == enums.ContractStatusInReview && allReleased(milestones) {
		walk = append(walk, enums.ContractStatusCompleted)
	}
	return walk
}

func allAtLeastApproved(milestones []models.Milestone) bool {
	for _, m := range milestones {
		if m.Status != enums.MilestoneStatusApproved && m.Status != enums.MilestoneStatusPaymentReleased {
			return false
		}
	}
	return true
}

func allReleased(milestones []models.Milestone) bool {
	for _, m := range milestones {
		if m.Status != enums.MilestoneStatusPaymentReleased {
			return false
		}
	}
	return true
}
