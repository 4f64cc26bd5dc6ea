package disputes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/escrowhub-backend/internal/contracts"
	"github.com/angelmondragon/escrowhub-backend/internal/milestones"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/angelmondragon/escrowhub-backend/pkg/metrics"
	"github.com/angelmondragon/escrowhub-backend/pkg/outbox"
	"github.com/angelmondragon/escrowhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/escrowhub-backend/pkg/pagination"
	"github.com/angelmondragon/escrowhub-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// contractStates is the slice of the contract service the overlay drives.
type contractStates interface {
	LoadForUpdate(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (*models.Contract, error)
	Transition(ctx context.Context, tx *gorm.DB, contract *models.Contract, path ...enums.ContractStatus) error
	ApplyDerived(ctx context.Context, tx *gorm.DB, contract *models.Contract) ([]enums.ContractStatus, error)
}

// Service runs the pending -> process -> resolved overlay and keeps the
// contract and the disputed milestone in step with it.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Open(ctx context.Context, input OpenInput) (*models.Dispute, error)
	Process(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error)
	Resolve(ctx context.Context, input ResolveInput) (*models.Dispute, error)
	IsActive(ctx context.Context, contractID uuid.UUID) (bool, error)
	RequireResolved(ctx context.Context, contractID uuid.UUID) (*models.Dispute, error)
	Get(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (*ListResult, error)
}

type OpenInput struct {
	ContractID  uuid.UUID
	MilestoneID *uuid.UUID
	Actor       types.Actor
	Reason      string
}

type ResolveInput struct {
	DisputeID uuid.UUID
	Actor     types.Actor
	Outcome   enums.DisputeOutcome
	Reason    string
}

type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Contracts  contractStates
	Milestones milestones.Service
	Logger     *logger.Logger
	Metrics    *metrics.EscrowMetrics
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	contracts  contractStates
	milestones milestones.Service
	logg       *logger.Logger
	metrics    *metrics.EscrowMetrics
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("dispute repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Contracts == nil:
		return nil, fmt.Errorf("contract service required")
	case params.Milestones == nil:
		return nil, fmt.Errorf("milestone service required")
	}
	return &service{
		repo:       params.Repo,
		tx:         params.Tx,
		outbox:     params.Outbox,
		contracts:  params.Contracts,
		milestones: params.Milestones,
		logg:       params.Logger,
		metrics:    params.Metrics,
	}, nil
}

// WithTx binds only the read paths (IsActive, RequireResolved, Get, List) to tx.
func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.repo = s.repo.WithTx(tx)
	return &clone
}

func (s *service) Open(ctx context.Context, input OpenInput) (*models.Dispute, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}

	var dispute *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		contract, err := s.contracts.LoadForUpdate(ctx, tx, input.ContractID)
		if err != nil {
			return err
		}
		if err := contracts.CheckAccess(contract, input.Actor); err != nil {
			return err
		}

		repo := s.repo.WithTx(tx)
		active, err := repo.FindActiveByContract(ctx, contract.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return pkgerrors.New(pkgerrors.CodeContractDisputed, "contract already has an unresolved dispute").
				WithDetails(map[string]any{"disputeId": active.ID.String()})
		}

		var path []enums.ContractStatus
		switch contract.Status {
		case enums.ContractStatusActive:
			path = []enums.ContractStatus{enums.ContractStatusInReview, enums.ContractStatusDisputed}
		case enums.ContractStatusInReview:
			path = []enums.ContractStatus{enums.ContractStatusDisputed}
		default:
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "disputes can only be opened on active or in-review contracts").
				WithDetails(map[string]any{"entity": "contract", "from": contract.Status, "to": enums.ContractStatusDisputed})
		}

		// The milestone moves first so a rejected milestone event leaves the contract untouched.
		if input.MilestoneID != nil {
			if _, err := s.applyMilestone(ctx, tx, contract, *input.MilestoneID, enums.MilestoneEventDispute, input.Actor, &reason); err != nil {
				return err
			}
		}
		if err := s.contracts.Transition(ctx, tx, contract, path...); err != nil {
			return err
		}

		dispute = &models.Dispute{
			ID:          uuid.New(),
			ContractID:  contract.ID,
			MilestoneID: input.MilestoneID,
			OpenedBy:    input.Actor.UserID,
			OpenedRole:  input.Actor.Role,
			Reason:      reason,
			Status:      enums.DisputeStatusPending,
		}
		if err := repo.Create(ctx, dispute); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventDisputeOpened, dispute, input.Actor)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, dispute, "", enums.DisputeStatusPending)
	return dispute, nil
}

func (s *service) Process(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error) {
	if !actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators may process disputes")
	}
	var dispute *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := repo.FindByID(ctx, disputeID)
		if err != nil {
			return err
		}
		if err := Transition(loaded.Status, enums.DisputeStatusProcess); err != nil {
			return err
		}
		contract, err := s.contracts.LoadForUpdate(ctx, tx, loaded.ContractID)
		if err != nil {
			return err
		}
		if loaded.MilestoneID != nil {
			if _, err := s.applyMilestone(ctx, tx, contract, *loaded.MilestoneID, enums.MilestoneEventProcess, actor, nil); err != nil {
				return err
			}
		}
		if err := s.contracts.Transition(ctx, tx, contract, enums.ContractStatusDisputedInProcess); err != nil {
			return err
		}
		if err := repo.Advance(ctx, loaded, enums.DisputeStatusProcess, nil); err != nil {
			return err
		}
		dispute = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, dispute, enums.DisputeStatusPending, enums.DisputeStatusProcess)
	return dispute, nil
}

func (s *service) Resolve(ctx context.Context, input ResolveInput) (*models.Dispute, error) {
	if !input.Actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators may resolve disputes")
	}
	if !input.Outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outcome must be client or vendor")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution reason is required")
	}

	var dispute *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := repo.FindByID(ctx, input.DisputeID)
		if err != nil {
			return err
		}
		if err := Transition(loaded.Status, enums.DisputeStatusResolved); err != nil {
			return err
		}
		contract, err := s.contracts.LoadForUpdate(ctx, tx, loaded.ContractID)
		if err != nil {
			return err
		}
		if loaded.MilestoneID != nil {
			if _, err := s.applyMilestone(ctx, tx, contract, *loaded.MilestoneID, enums.MilestoneEventResolve, input.Actor, &reason); err != nil {
				return err
			}
		}
		if err := s.contracts.Transition(ctx, tx, contract, enums.ContractStatusDisputedResolved, enums.ContractStatusActive); err != nil {
			return err
		}
		if _, err := s.contracts.ApplyDerived(ctx, tx, contract); err != nil {
			return err
		}

		now := time.Now().UTC()
		outcome := input.Outcome
		resolvedBy := input.Actor.UserID
		if err := repo.Advance(ctx, loaded, enums.DisputeStatusResolved, map[string]any{
			"outcome":           outcome,
			"resolution_reason": reason,
			"resolved_by":       resolvedBy,
			"resolved_at":       now,
		}); err != nil {
			return err
		}
		loaded.Outcome = &outcome
		loaded.ResolutionReason = &reason
		loaded.ResolvedBy = &resolvedBy
		loaded.ResolvedAt = &now
		dispute = loaded
		return s.emit(ctx, tx, enums.EventDisputeResolved, dispute, input.Actor)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, dispute, enums.DisputeStatusProcess, enums.DisputeStatusResolved)
	return dispute, nil
}

func (s *service) IsActive(ctx context.Context, contractID uuid.UUID) (bool, error) {
	active, err := s.repo.FindActiveByContract(ctx, contractID)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// RequireResolved returns the latest dispute when it is resolved and nothing
// newer is open. Manual money movement is gated on it.
func (s *service) RequireResolved(ctx context.Context, contractID uuid.UUID) (*models.Dispute, error) {
	latest, err := s.repo.FindLatestByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.Status != enums.DisputeStatusResolved {
		details := map[string]any{"contractId": contractID.String()}
		if latest != nil {
			details["disputeId"] = latest.ID.String()
			details["status"] = latest.Status
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract has no resolved dispute").WithDetails(details)
	}
	return latest, nil
}

func (s *service) Get(ctx context.Context, disputeID uuid.UUID, actor types.Actor) (*models.Dispute, error) {
	dispute, err := s.repo.FindByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if actor.IsOperator() || dispute.OpenedBy == actor.UserID {
		return dispute, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "dispute not visible to actor")
}

func (s *service) List(ctx context.Context, filter ListFilter, params pagination.Params) (*ListResult, error) {
	return s.repo.List(ctx, filter, params)
}

func (s *service) applyMilestone(ctx context.Context, tx *gorm.DB, contract *models.Contract, milestoneID uuid.UUID, event enums.MilestoneEvent, actor types.Actor, note *string) (*milestones.ApplyResult, error) {
	return s.milestones.WithTx(tx).Apply(ctx, milestones.ApplyInput{
		Contract:    contract,
		MilestoneID: milestoneID,
		Event:       event,
		Actor:       actor,
		Note:        note,
	})
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, dispute *models.Dispute, actor types.Actor) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDispute,
		AggregateID:   dispute.ID,
		Actor:         outbox.NewActorRef(actor.UserID, actor.Role),
		Data: payloads.DisputeEvent{
			DisputeID:   dispute.ID,
			ContractID:  dispute.ContractID,
			MilestoneID: dispute.MilestoneID,
			Status:      dispute.Status,
			OpenedRole:  dispute.OpenedRole,
			Reason:      dispute.Reason,
			Outcome:     dispute.Outcome,
		},
	})
}

func (s *service) logTransition(ctx context.Context, dispute *models.Dispute, from, to enums.DisputeStatus) {
	s.metrics.IncTransition("dispute", string(to))
	if s.logg == nil {
		return
	}
	fields := map[string]any{
		"dispute_id":  dispute.ID.String(),
		"contract_id": dispute.ContractID.String(),
		"from":        from,
		"to":          to,
	}
	if dispute.MilestoneID != nil {
		fields["milestone_id"] = dispute.MilestoneID.String()
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "dispute transitioned")
}
