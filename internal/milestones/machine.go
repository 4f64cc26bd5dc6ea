package milestones

import (
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
)

type rule struct {
	to    enums.MilestoneStatus
	roles []enums.ActorRole
}

var (
	parties   = []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleVendor}
	anyone    = []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleVendor, enums.ActorRoleAdmin}
	operators = []enums.ActorRole{enums.ActorRoleAdmin}
)

var disputeRule = rule{to: enums.MilestoneStatusDisputed, roles: anyone}

var transitions = map[enums.MilestoneStatus]map[enums.MilestoneEvent]rule{
	enums.MilestoneStatusPending: {
		enums.MilestoneEventStart:   {to: enums.MilestoneStatusWorking, roles: parties},
		enums.MilestoneEventDispute: disputeRule,
	},
	enums.MilestoneStatusWorking: {
		enums.MilestoneEventSubmit:  {to: enums.MilestoneStatusReadyForReview, roles: []enums.ActorRole{enums.ActorRoleVendor}},
		enums.MilestoneEventDispute: disputeRule,
	},
	enums.MilestoneStatusReadyForReview: {
		enums.MilestoneEventRequestChanges: {to: enums.MilestoneStatusChangeRequested, roles: []enums.ActorRole{enums.ActorRoleClient}},
		enums.MilestoneEventApprove:        {to: enums.MilestoneStatusApproved, roles: []enums.ActorRole{enums.ActorRoleClient}},
		enums.MilestoneEventDispute:        disputeRule,
	},
	enums.MilestoneStatusChangeRequested: {
		enums.MilestoneEventSubmit:  {to: enums.MilestoneStatusReadyForReview, roles: []enums.ActorRole{enums.ActorRoleVendor}},
		enums.MilestoneEventDispute: disputeRule,
	},
	enums.MilestoneStatusApproved: {
		enums.MilestoneEventRelease: {to: enums.MilestoneStatusPaymentReleased, roles: []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleAdmin}},
		enums.MilestoneEventDispute: disputeRule,
	},
	enums.MilestoneStatusDisputed: {
		enums.MilestoneEventProcess: {to: enums.MilestoneStatusDisputedInProcess, roles: operators},
		enums.MilestoneEventResolve: {to: enums.MilestoneStatusDisputedResolved, roles: operators},
	},
	enums.MilestoneStatusDisputedInProcess: {
		enums.MilestoneEventResolve: {to: enums.MilestoneStatusDisputedResolved, roles: operators},
	},
	enums.MilestoneStatusDisputedResolved: {
		enums.MilestoneEventRelease: {to: enums.MilestoneStatusPaymentReleased, roles: operators},
		enums.MilestoneEventResume:  {to: enums.MilestoneStatusWorking, roles: operators},
	},
}

// Transition returns the status reached by applying event from current as role.
func Transition(current enums.MilestoneStatus, event enums.MilestoneEvent, role enums.ActorRole) (enums.MilestoneStatus, error) {
	r, ok := transitions[current][event]
	if !ok {
		return current, pkgerrors.New(pkgerrors.CodeInvalidTransition, "milestone transition not allowed").
			WithDetails(map[string]any{
				"entity": "milestone",
				"from":   current,
				"event":  event,
			})
	}
	for _, allowed := range r.roles {
		if allowed == role {
			return r.to, nil
		}
	}
	return current, pkgerrors.New(pkgerrors.CodeForbidden, "role may not perform this milestone action").
		WithDetails(map[string]any{
			"event": event,
			"role":  role,
		})
}

// CanApply reports whether event is defined for current regardless of role.
func CanApply(current enums.MilestoneStatus, event enums.MilestoneEvent) bool {
	_, ok := transitions[current][event]
	return ok
}

// CheckSequence rejects starting target while any earlier milestone is not yet approved.
func CheckSequence(all []models.Milestone, target models.Milestone) error {
	for _, m := range all {
		if m.Position >= target.Position {
			continue
		}
		if !m.Status.IsApprovedOrLater() {
			return pkgerrors.New(pkgerrors.CodeSequenceViolation, "earlier milestones must be approved first").
				WithDetails(map[string]any{
					"milestoneId":   target.ID.String(),
					"position":      target.Position,
					"blockedBy":     m.Position,
					"blockerStatus": m.Status,
				})
		}
	}
	return nil
}

// CheckDispute blocks every event except dispute, process and resolve while the
// contract has an unresolved dispute. Resume waits for the dispute to close.
func CheckDispute(event enums.MilestoneEvent, disputeActive bool) error {
	if !disputeActive {
		return nil
	}
	switch event {
	case enums.MilestoneEventDispute,
		enums.MilestoneEventProcess,
		enums.MilestoneEventResolve:
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeContractDisputed, "contract has an unresolved dispute").
		WithDetails(map[string]any{"event": event})
}
