package contracts

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/angelmondragon/escrowhub-backend/pkg/db"
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

const (
	defaultExternalIDPrefix = "ESC"
	externalIDAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	externalIDSuffixLen     = 6
	externalIDAttempts      = 5
	externalIDConstraint    = "ux_contracts_external_id"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the contract lifecycle up to funding plus the status writes
// other components drive through Transition.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Contract, error)
	Send(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error)
	Accept(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error)
	Reject(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error)
	Cancel(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error)
	Get(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error)
	List(ctx context.Context, actor types.Actor, input ListInput) (*ListResult, error)

	// The methods below run on the caller's transaction.
	LoadForUpdate(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (*models.Contract, error)
	Transition(ctx context.Context, tx *gorm.DB, contract *models.Contract, path ...enums.ContractStatus) error
	ApplyDerived(ctx context.Context, tx *gorm.DB, contract *models.Contract) ([]enums.ContractStatus, error)
}

type MilestoneInput struct {
	Title       string
	Description *string
	AmountCents int64
	StartsAt    *time.Time
	EndsAt      *time.Time
}

type CreateInput struct {
	Actor        types.Actor
	VendorID     uuid.UUID
	Title        string
	Description  *string
	ContractType enums.ContractType
	BudgetCents  int64
	Milestones   []MilestoneInput
	Send         bool
}

type ListInput struct {
	Role   *enums.ActorRole
	Status *enums.ContractStatus
	Page   pagination.Params
}

type ServiceParams struct {
	Repo             Repository
	Tx               txRunner
	Outbox           outboxPublisher
	Logger           *logger.Logger
	Metrics          *metrics.EscrowMetrics
	ExternalIDPrefix string
	Clock            func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	metrics  *metrics.EscrowMetrics
	idPrefix string
	now      func() time.Time
}

// NewService wires the contract service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("contract repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	prefix := strings.ToUpper(strings.TrimSpace(params.ExternalIDPrefix))
	if prefix == "" {
		prefix = defaultExternalIDPrefix
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
		idPrefix: prefix,
		now:      clock,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Contract, error) {
	if input.Actor.Role != enums.ActorRoleClient || input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only clients may create contracts")
	}
	if err := validateCreate(input); err != nil {
		return nil, err
	}

	var created *models.Contract
	for attempt := 0; attempt < externalIDAttempts; attempt++ {
		externalID, err := s.newExternalID()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate external id")
		}
		contract := buildContract(input, externalID)

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, contract); err != nil {
				return err
			}
			if !input.Send {
				return nil
			}
			return s.send(ctx, tx, contract, input.Actor)
		})
		if err == nil {
			created = contract
			break
		}
		if db.IsUniqueViolation(err, externalIDConstraint) {
			continue
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create contract")
	}
	if created == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique external id")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"contract_id": created.ID.String(),
			"external_id": created.ExternalID,
			"status":      created.Status,
		})
		s.logg.Info(logCtx, "contract created")
	}
	return created, nil
}

func (s *service) Send(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error) {
	return s.partyAction(ctx, contractID, actor, enums.ActorRoleClient, func(tx *gorm.DB, contract *models.Contract) error {
		return s.send(ctx, tx, contract, actor)
	})
}

func (s *service) send(ctx context.Context, tx *gorm.DB, contract *models.Contract, actor types.Actor) error {
	if err := s.Transition(ctx, tx, contract, enums.ContractStatusOnboarding); err != nil {
		return err
	}
	return s.emit(ctx, tx, enums.EventContractAssigned, contract, actor)
}

func (s *service) Accept(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error) {
	return s.partyAction(ctx, contractID, actor, enums.ActorRoleVendor, func(tx *gorm.DB, contract *models.Contract) error {
		if contract.Status != enums.ContractStatusOnboarding {
			return notAllowed(contract.Status, enums.ContractStatusFundingPending, "accept")
		}
		if err := s.Transition(ctx, tx, contract, enums.ContractStatusFundingPending); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventContractAccepted, contract, actor)
	})
}

func (s *service) Reject(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error) {
	return s.partyAction(ctx, contractID, actor, enums.ActorRoleVendor, func(tx *gorm.DB, contract *models.Contract) error {
		if contract.Status != enums.ContractStatusOnboarding {
			return notAllowed(contract.Status, enums.ContractStatusCancelled, "reject")
		}
		return s.Transition(ctx, tx, contract, enums.ContractStatusCancelled)
	})
}

// Cancel lets the client withdraw before funding starts. Operators may cancel
// wherever the edge table allows it.
func (s *service) Cancel(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error) {
	if actor.IsOperator() {
		var contract *models.Contract
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			loaded, err := s.LoadForUpdate(ctx, tx, contractID)
			if err != nil {
				return err
			}
			contract = loaded
			return s.Transition(ctx, tx, contract, enums.ContractStatusCancelled)
		})
		if err != nil {
			return nil, err
		}
		return contract, nil
	}
	return s.partyAction(ctx, contractID, actor, enums.ActorRoleClient, func(tx *gorm.DB, contract *models.Contract) error {
		switch contract.Status {
		case enums.ContractStatusOnboarding, enums.ContractStatusFundingPending:
			return s.Transition(ctx, tx, contract, enums.ContractStatusCancelled)
		default:
			return notAllowed(contract.Status, enums.ContractStatusCancelled, "cancel")
		}
	})
}

func (s *service) Get(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error) {
	contract, err := s.repo.FindByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := CheckAccess(contract, actor); err != nil {
		return nil, err
	}
	return contract, nil
}

func (s *service) List(ctx context.Context, actor types.Actor, input ListInput) (*ListResult, error) {
	filter := ListFilter{Status: input.Status}
	if !actor.IsOperator() {
		if actor.UserID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
		}
		partyID := actor.UserID
		filter.PartyID = &partyID
		filter.Role = input.Role
	}
	return s.repo.List(ctx, filter, input.Page)
}

func (s *service) LoadForUpdate(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (*models.Contract, error) {
	return s.repo.WithTx(tx).FindByIDForUpdate(ctx, contractID)
}

// Transition walks contract through path. The whole walk is validated before
// the first write so a rejected edge leaves the row untouched.
func (s *service) Transition(ctx context.Context, tx *gorm.DB, contract *models.Contract, path ...enums.ContractStatus) error {
	if contract == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "contract is required")
	}
	if len(path) == 0 {
		return nil
	}
	if err := ValidatePath(contract.Status, path...); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	for _, next := range path {
		from := contract.Status
		if err := repo.UpdateStatus(ctx, contract, next); err != nil {
			return err
		}
		s.metrics.IncTransition("contract", string(next))
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"contract_id": contract.ID.String(),
				"from":        from,
				"to":          next,
			})
			s.logg.Info(logCtx, "contract transitioned")
		}
	}
	return nil
}

// ApplyDerived moves the contract forward when its milestones imply it and
// emits contract.completed on completion.
func (s *service) ApplyDerived(ctx context.Context, tx *gorm.DB, contract *models.Contract) ([]enums.ContractStatus, error) {
	walk := Derive(contract.Status, contract.Milestones)
	if len(walk) == 0 {
		return nil, nil
	}
	if err := s.Transition(ctx, tx, contract, walk...); err != nil {
		return nil, err
	}
	if contract.Status == enums.ContractStatusCompleted {
		if err := s.emit(ctx, tx, enums.EventContractCompleted, contract, types.SystemActor()); err != nil {
			return nil, err
		}
	}
	return walk, nil
}

// CheckAccess allows operators and either party.
func CheckAccess(contract *models.Contract, actor types.Actor) error {
	if actor.IsOperator() {
		return nil
	}
	if role, ok := contract.RoleOf(actor.UserID); ok && role == actor.Role {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "actor is not a party to this contract")
}

func (s *service) partyAction(ctx context.Context, contractID uuid.UUID, actor types.Actor, role enums.ActorRole, fn func(tx *gorm.DB, contract *models.Contract) error) (*models.Contract, error) {
	if actor.Role != role {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("only the %s may perform this action", role))
	}
	var contract *models.Contract
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		loaded, err := s.LoadForUpdate(ctx, tx, contractID)
		if err != nil {
			return err
		}
		if partyRole, ok := loaded.RoleOf(actor.UserID); !ok || partyRole != role {
			return pkgerrors.New(pkgerrors.CodeForbidden, "actor is not a party to this contract")
		}
		contract = loaded
		return fn(tx, contract)
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

// notAllowed reports a party action that the current status does not permit,
// even where the edge itself exists.
func notAllowed(from, to enums.ContractStatus, action string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract transition not allowed").
		WithDetails(map[string]any{
			"entity": "contract",
			"from":   from,
			"to":     to,
			"action": action,
		})
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, contract *models.Contract, actor types.Actor) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateContract,
		AggregateID:   contract.ID,
		Actor:         outbox.NewActorRef(actor.UserID, actor.Role),
		Data: payloads.ContractEvent{
			ContractID: contract.ID,
			ExternalID: contract.ExternalID,
			ClientID:   contract.ClientID,
			VendorID:   contract.VendorID,
			Status:     contract.Status,
		},
	})
}

func (s *service) newExternalID() (string, error) {
	var b strings.Builder
	b.WriteString(s.idPrefix)
	b.WriteString("-")
	b.WriteString(s.now().UTC().Format("20060102"))
	b.WriteString("-")
	limit := big.NewInt(int64(len(externalIDAlphabet)))
	for i := 0; i < externalIDSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(externalIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func validateCreate(input CreateInput) error {
	details := map[string]any{}
	if input.VendorID == uuid.Nil {
		details["vendorId"] = "required"
	} else if input.VendorID == input.Actor.UserID {
		details["vendorId"] = "vendor must differ from client"
	}
	if strings.TrimSpace(input.Title) == "" {
		details["title"] = "required"
	}
	if !input.ContractType.IsValid() {
		details["contractType"] = "must be services or products"
	}
	if input.BudgetCents <= 0 {
		details["budgetCents"] = "must be positive"
	}
	if len(input.Milestones) == 0 {
		details["milestones"] = "at least one milestone is required"
	}
	// sum never exceeds the budget, so it cannot overflow.
	var sum int64
	overBudget := false
	for i, m := range input.Milestones {
		if strings.TrimSpace(m.Title) == "" {
			details[fmt.Sprintf("milestones[%d].title", i)] = "required"
		}
		if m.AmountCents <= 0 {
			details[fmt.Sprintf("milestones[%d].amountCents", i)] = "must be positive"
		}
		if m.StartsAt != nil && m.EndsAt != nil && m.EndsAt.Before(*m.StartsAt) {
			details[fmt.Sprintf("milestones[%d].endsAt", i)] = "must not precede startsAt"
		}
		if m.AmountCents > 0 && input.BudgetCents > 0 && !overBudget {
			if m.AmountCents > input.BudgetCents-sum {
				overBudget = true
			} else {
				sum += m.AmountCents
			}
		}
	}
	switch {
	case overBudget:
		details["milestones"] = fmt.Sprintf("amounts exceed budget of %d", input.BudgetCents)
	case len(input.Milestones) > 0 && input.BudgetCents > 0 && sum != input.BudgetCents:
		details["milestones"] = fmt.Sprintf("amounts sum to %d, budget is %d", sum, input.BudgetCents)
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid contract").WithDetails(details)
	}
	return nil
}

func buildContract(input CreateInput, externalID string) *models.Contract {
	contract := &models.Contract{
		ID:           uuid.New(),
		ExternalID:   externalID,
		ClientID:     input.Actor.UserID,
		VendorID:     input.VendorID,
		Title:        strings.TrimSpace(input.Title),
		Description:  input.Description,
		BudgetCents:  input.BudgetCents,
		ContractType: input.ContractType,
		Status:       enums.ContractStatusDraft,
		Version:      1,
	}
	for i, m := range input.Milestones {
		contract.Milestones = append(contract.Milestones, models.Milestone{
			ID:          uuid.New(),
			ContractID:  contract.ID,
			Position:    i,
			Title:       strings.TrimSpace(m.Title),
			Description: m.Description,
			AmountCents: m.AmountCents,
			Status:      enums.MilestoneStatusPending,
			StartsAt:    m.StartsAt,
			EndsAt:      m.EndsAt,
		})
	}
	return contract
}
