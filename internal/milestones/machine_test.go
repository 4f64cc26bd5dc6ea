package milestones

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
)

type edge struct {
	from  enums.MilestoneStatus
	event enums.MilestoneEvent
}

var expectedEdges = map[edge]struct {
	to    enums.MilestoneStatus
	roles []enums.ActorRole
}{
	{enums.MilestoneStatusPending, enums.MilestoneEventStart}:                 {enums.MilestoneStatusWorking, []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleVendor}},
	{enums.MilestoneStatusWorking, enums.MilestoneEventSubmit}:                {enums.MilestoneStatusReadyForReview, []enums.ActorRole{enums.ActorRoleVendor}},
	{enums.MilestoneStatusReadyForReview, enums.MilestoneEventRequestChanges}: {enums.MilestoneStatusChangeRequested, []enums.ActorRole{enums.ActorRoleClient}},
	{enums.MilestoneStatusReadyForReview, enums.MilestoneEventApprove}:        {enums.MilestoneStatusApproved, []enums.ActorRole{enums.ActorRoleClient}},
	{enums.MilestoneStatusChangeRequested, enums.MilestoneEventSubmit}:        {enums.MilestoneStatusReadyForReview, []enums.ActorRole{enums.ActorRoleVendor}},
	{enums.MilestoneStatusApproved, enums.MilestoneEventRelease}:              {enums.MilestoneStatusPaymentReleased, []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleAdmin}},
	{enums.MilestoneStatusPending, enums.MilestoneEventDispute}:               {enums.MilestoneStatusDisputed, []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleVendor, enums.ActorRoleAdmin}},
	{enums.MilestoneStatusWorking, enums.MilestoneEventDispute}:               {enums.MilestoneStatusDisputed, []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleVendor, enums.ActorRoleAdmin}},
	{enums.MilestoneStatusReadyForReview, enums.MilestoneEventDispute}:        {enums.MilestoneStatusDisputed, []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleVendor, enums.ActorRoleAdmin}},
	{enums.MilestoneStatusChangeRequested, enums.MilestoneEventDispute}:       {enums.MilestoneStatusDisputed, []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleVendor, enums.ActorRoleAdmin}},
	{enums.MilestoneStatusApproved, enums.MilestoneEventDispute}:              {enums.MilestoneStatusDisputed, []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleVendor, enums.ActorRoleAdmin}},
	{enums.MilestoneStatusDisputed, enums.MilestoneEventProcess}:              {enums.MilestoneStatusDisputedInProcess, []enums.ActorRole{enums.ActorRoleAdmin}},
	{enums.MilestoneStatusDisputed, enums.MilestoneEventResolve}:              {enums.MilestoneStatusDisputedResolved, []enums.ActorRole{enums.ActorRoleAdmin}},
	{enums.MilestoneStatusDisputedInProcess, enums.MilestoneEventResolve}:     {enums.MilestoneStatusDisputedResolved, []enums.ActorRole{enums.ActorRoleAdmin}},
	{enums.MilestoneStatusDisputedResolved, enums.MilestoneEventRelease}:      {enums.MilestoneStatusPaymentReleased, []enums.ActorRole{enums.ActorRoleAdmin}},
	{enums.MilestoneStatusDisputedResolved, enums.MilestoneEventResume}:       {enums.MilestoneStatusWorking, []enums.ActorRole{enums.ActorRoleAdmin}},
}

func TestTransitionTableIsComplete(t *testing.T) {
	roles := []enums.ActorRole{enums.ActorRoleClient, enums.ActorRoleVendor, enums.ActorRoleAdmin, enums.ActorRoleSystem}
	for _, from := range enums.MilestoneStatuses() {
		for _, event := range enums.MilestoneEvents() {
			want, defined := expectedEdges[edge{from, event}]
			require.Equal(t, defined, CanApply(from, event), "%s --%s-->", from, event)
			for _, role := range roles {
				next, err := Transition(from, event, role)
				switch {
				case !defined:
					require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition), "%s --%s--> as %s", from, event, role)
					require.Equal(t, from, next)
				case containsRole(want.roles, role):
					require.NoError(t, err, "%s --%s--> as %s", from, event, role)
					require.Equal(t, want.to, next)
				default:
					require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden), "%s --%s--> as %s", from, event, role)
					require.Equal(t, from, next)
				}
			}
		}
	}
}

func TestPaymentReleasedIsAbsorbing(t *testing.T) {
	for _, event := range enums.MilestoneEvents() {
		require.False(t, CanApply(enums.MilestoneStatusPaymentReleased, event), "event %s", event)
	}
}

func TestCheckSequence(t *testing.T) {
	ms := []models.Milestone{
		{ID: uuid.New(), Position: 0, Status: enums.MilestoneStatusWorking},
		{ID: uuid.New(), Position: 1, Status: enums.MilestoneStatusPending},
		{ID: uuid.New(), Position: 2, Status: enums.MilestoneStatusPending},
	}
	require.NoError(t, CheckSequence(ms, ms[0]))

	err := CheckSequence(ms, ms[1])
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeSequenceViolation))

	ms[0].Status = enums.MilestoneStatusApproved
	require.NoError(t, CheckSequence(ms, ms[1]))
	require.True(t, pkgerrors.Is(CheckSequence(ms, ms[2]), pkgerrors.CodeSequenceViolation))

	ms[1].Status = enums.MilestoneStatusPaymentReleased
	require.NoError(t, CheckSequence(ms, ms[2]))
}

func TestCheckDispute(t *testing.T) {
	for _, event := range enums.MilestoneEvents() {
		require.NoError(t, CheckDispute(event, false))
	}
	blocked := []enums.MilestoneEvent{
		enums.MilestoneEventStart,
		enums.MilestoneEventSubmit,
		enums.MilestoneEventRequestChanges,
		enums.MilestoneEventApprove,
		enums.MilestoneEventRelease,
		enums.MilestoneEventResume,
	}
	for _, event := range blocked {
		require.True(t, pkgerrors.Is(CheckDispute(event, true), pkgerrors.CodeContractDisputed), "event %s", event)
	}
	for _, event := range []enums.MilestoneEvent{enums.MilestoneEventDispute, enums.MilestoneEventProcess, enums.MilestoneEventResolve} {
		require.NoError(t, CheckDispute(event, true))
	}
}

func containsRole(roles []enums.ActorRole, role enums.ActorRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
