package disputes

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrowhub-backend/internal/contracts"
	"github.com/angelmondragon/escrowhub-backend/internal/milestones"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/outbox"
	"github.com/angelmondragon/escrowhub-backend/pkg/types"
)

var disputesSchema = []string{
	`CREATE TABLE contracts (
  id TEXT PRIMARY KEY,
  external_id TEXT NOT NULL UNIQUE,
  client_id TEXT NOT NULL,
  vendor_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT,
  budget_cents INTEGER NOT NULL,
  contract_type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  substatus TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE milestones (
  id TEXT PRIMARY KEY,
  contract_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  title TEXT NOT NULL,
  description TEXT,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  starts_at DATETIME,
  ends_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE milestone_history (
  id TEXT PRIMARY KEY,
  milestone_id TEXT NOT NULL,
  contract_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  event TEXT NOT NULL,
  actor_id TEXT NOT NULL,
  actor_role TEXT NOT NULL,
  note TEXT,
  attachments TEXT NOT NULL DEFAULT '[]',
  created_at DATETIME
);`,
	`CREATE TABLE disputes (
  id TEXT PRIMARY KEY,
  contract_id TEXT NOT NULL,
  milestone_id TEXT,
  opened_by TEXT NOT NULL,
  opened_role TEXT NOT NULL,
  reason TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  outcome TEXT,
  resolution_reason TEXT,
  resolved_by TEXT,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type disputesFixture struct {
	db         *gorm.DB
	svc        Service
	milestones milestones.Service
	outbox     *stubOutbox
	contract   *models.Contract
	client     types.Actor
	vendor     types.Actor
	admin      types.Actor
}

func newDisputesFixture(t *testing.T, contractStatus enums.ContractStatus, milestoneStatuses ...enums.MilestoneStatus) *disputesFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	for _, ddl := range disputesSchema {
		require.NoError(t, db.Exec(ddl).Error)
	}

	box := &stubOutbox{}
	tx := gormTxRunner{db: db}
	contractSvc, err := contracts.NewService(contracts.ServiceParams{
		Repo:   contracts.NewRepository(db),
		Tx:     tx,
		Outbox: box,
	})
	require.NoError(t, err)
	milestoneSvc, err := milestones.NewService(milestones.NewRepository(db), nil, nil)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(db),
		Tx:         tx,
		Outbox:     box,
		Contracts:  contractSvc,
		Milestones: milestoneSvc,
	})
	require.NoError(t, err)

	f := &disputesFixture{
		db:         db,
		svc:        svc,
		milestones: milestoneSvc,
		outbox:     box,
		client:     types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient},
		vendor:     types.Actor{UserID: uuid.New(), Role: enums.ActorRoleVendor},
		admin:      types.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
	}
	contract := &models.Contract{
		ID:           uuid.New(),
		ExternalID:   "ESC-20260314-" + uuid.NewString()[:6],
		ClientID:     f.client.UserID,
		VendorID:     f.vendor.UserID,
		Title:        "Logo",
		BudgetCents:  100000,
		ContractType: enums.ContractTypeServices,
		Status:       contractStatus,
		Version:      1,
	}
	for i, status := range milestoneStatuses {
		contract.Milestones = append(contract.Milestones, models.Milestone{
			ID:          uuid.New(),
			ContractID:  contract.ID,
			Position:    i,
			Title:       "m",
			AmountCents: 100000 / int64(len(milestoneStatuses)),
			Status:      status,
		})
	}
	require.NoError(t, contracts.NewRepository(db).Create(context.Background(), contract))
	f.contract = contract
	return f
}

func (f *disputesFixture) reload(t *testing.T) *models.Contract {
	t.Helper()
	contract, err := contracts.NewRepository(f.db).FindByID(context.Background(), f.contract.ID)
	require.NoError(t, err)
	return contract
}

func TestOpenProcessResolveLifecycle(t *testing.T) {
	f := newDisputesFixture(t, enums.ContractStatusActive, enums.MilestoneStatusReadyForReview, enums.MilestoneStatusPending)
	ctx := context.Background()
	milestoneID := f.contract.Milestones[0].ID

	dispute, err := f.svc.Open(ctx, OpenInput{
		ContractID:  f.contract.ID,
		MilestoneID: &milestoneID,
		Actor:       f.client,
		Reason:      "work does not match the brief",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusPending, dispute.Status)

	contract := f.reload(t)
	assert.Equal(t, enums.ContractStatusDisputed, contract.Status)
	assert.Equal(t, enums.MilestoneStatusDisputed, contract.Milestones[0].Status)

	active, err := f.svc.IsActive(ctx, f.contract.ID)
	require.NoError(t, err)
	assert.True(t, active)

	_, err = f.svc.Resolve(ctx, ResolveInput{DisputeID: dispute.ID, Actor: f.admin, Outcome: enums.DisputeOutcomeVendor, Reason: "skip"})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	_, err = f.svc.Process(ctx, dispute.ID, f.client)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	processed, err := f.svc.Process(ctx, dispute.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusProcess, processed.Status)
	contract = f.reload(t)
	assert.Equal(t, enums.ContractStatusDisputedInProcess, contract.Status)
	assert.Equal(t, enums.MilestoneStatusDisputedInProcess, contract.Milestones[0].Status)

	_, err = f.svc.RequireResolved(ctx, f.contract.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	resolved, err := f.svc.Resolve(ctx, ResolveInput{
		DisputeID: dispute.ID,
		Actor:     f.admin,
		Outcome:   enums.DisputeOutcomeVendor,
		Reason:    "deliverable meets the brief",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusResolved, resolved.Status)
	require.NotNil(t, resolved.Outcome)
	assert.Equal(t, enums.DisputeOutcomeVendor, *resolved.Outcome)

	contract = f.reload(t)
	assert.Equal(t, enums.ContractStatusActive, contract.Status)
	assert.Equal(t, enums.MilestoneStatusDisputedResolved, contract.Milestones[0].Status)

	active, err = f.svc.IsActive(ctx, f.contract.ID)
	require.NoError(t, err)
	assert.False(t, active)

	latest, err := f.svc.RequireResolved(ctx, f.contract.ID)
	require.NoError(t, err)
	assert.Equal(t, dispute.ID, latest.ID)

	var kinds []enums.OutboxEventType
	for _, e := range f.outbox.events {
		kinds = append(kinds, e.EventType)
	}
	assert.Equal(t, []enums.OutboxEventType{enums.EventDisputeOpened, enums.EventDisputeResolved}, kinds)
}

func TestResumeAfterResolution(t *testing.T) {
	f := newDisputesFixture(t, enums.ContractStatusActive, enums.MilestoneStatusWorking)
	ctx := context.Background()
	milestoneID := f.contract.Milestones[0].ID

	dispute, err := f.svc.Open(ctx, OpenInput{ContractID: f.contract.ID, MilestoneID: &milestoneID, Actor: f.vendor, Reason: "scope creep"})
	require.NoError(t, err)

	contract := f.reload(t)
	_, err = f.milestones.Apply(ctx, milestones.ApplyInput{
		Contract:      contract,
		MilestoneID:   milestoneID,
		Event:         enums.MilestoneEventSubmit,
		Actor:         f.vendor,
		DisputeActive: true,
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeContractDisputed))

	_, err = f.svc.Process(ctx, dispute.ID, f.admin)
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, ResolveInput{DisputeID: dispute.ID, Actor: f.admin, Outcome: enums.DisputeOutcomeClient, Reason: "keep working"})
	require.NoError(t, err)

	contract = f.reload(t)
	res, err := f.milestones.Apply(ctx, milestones.ApplyInput{
		Contract:    contract,
		MilestoneID: milestoneID,
		Event:       enums.MilestoneEventResume,
		Actor:       f.admin,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.MilestoneStatusWorking, res.To)
}

func TestOpenWithoutMilestoneFromInReview(t *testing.T) {
	f := newDisputesFixture(t, enums.ContractStatusInReview, enums.MilestoneStatusApproved)
	ctx := context.Background()

	dispute, err := f.svc.Open(ctx, OpenInput{ContractID: f.contract.ID, Actor: f.client, Reason: "quality"})
	require.NoError(t, err)
	assert.Nil(t, dispute.MilestoneID)
	assert.Equal(t, enums.ContractStatusDisputed, f.reload(t).Status)

	_, err = f.svc.Open(ctx, OpenInput{ContractID: f.contract.ID, Actor: f.vendor, Reason: "again"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeContractDisputed))
}

func TestOpenGuards(t *testing.T) {
	ctx := context.Background()

	f := newDisputesFixture(t, enums.ContractStatusFundingPending, enums.MilestoneStatusPending)
	_, err := f.svc.Open(ctx, OpenInput{ContractID: f.contract.ID, Actor: f.client, Reason: "early"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	f = newDisputesFixture(t, enums.ContractStatusActive, enums.MilestoneStatusPaymentReleased)
	milestoneID := f.contract.Milestones[0].ID
	_, err = f.svc.Open(ctx, OpenInput{ContractID: f.contract.ID, MilestoneID: &milestoneID, Actor: f.client, Reason: "late"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
	assert.Equal(t, enums.ContractStatusActive, f.reload(t).Status)

	stranger := types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient}
	_, err = f.svc.Open(ctx, OpenInput{ContractID: f.contract.ID, Actor: stranger, Reason: "nosy"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Open(ctx, OpenInput{ContractID: f.contract.ID, Actor: f.client, Reason: "  "})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestRequireResolvedWithoutDispute(t *testing.T) {
	f := newDisputesFixture(t, enums.ContractStatusActive, enums.MilestoneStatusWorking)
	_, err := f.svc.RequireResolved(context.Background(), f.contract.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
}
