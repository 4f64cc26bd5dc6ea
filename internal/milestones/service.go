package milestones

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/escrowhub-backend/pkg/db/types"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/angelmondragon/escrowhub-backend/pkg/metrics"
	"github.com/angelmondragon/escrowhub-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service applies milestone events and records their history.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Apply(ctx context.Context, input ApplyInput) (*ApplyResult, error)
	Check(ctx context.Context, input ApplyInput) (*models.Milestone, enums.MilestoneStatus, error)
	History(ctx context.Context, contract *models.Contract, milestoneID uuid.UUID) ([]models.MilestoneHistory, error)
}

// ApplyInput describes one milestone event. Contract must carry its milestones.
type ApplyInput struct {
	Contract      *models.Contract
	MilestoneID   uuid.UUID
	Event         enums.MilestoneEvent
	Actor         types.Actor
	Note          *string
	Attachments   []string
	DisputeActive bool
}

type ApplyResult struct {
	Milestone *models.Milestone
	From      enums.MilestoneStatus
	To        enums.MilestoneStatus
	History   *models.MilestoneHistory
}

type service struct {
	repo    Repository
	logg    *logger.Logger
	metrics *metrics.EscrowMetrics
}

// NewService wires the milestone service.
func NewService(repo Repository, logg *logger.Logger, m *metrics.EscrowMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("milestone repository required")
	}
	return &service{repo: repo, logg: logg, metrics: m}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), logg: s.logg, metrics: s.metrics}
}

// Check runs every guard for the event without writing anything.
func (s *service) Check(ctx context.Context, input ApplyInput) (*models.Milestone, enums.MilestoneStatus, error) {
	if input.Contract == nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "contract is required")
	}
	if !input.Event.IsValid() {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid milestone event %q", input.Event))
	}
	if err := authorizeActor(input.Contract, input.Actor); err != nil {
		return nil, "", err
	}
	milestone := findMilestone(input.Contract, input.MilestoneID)
	if milestone == nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeNotFound, "milestone not found")
	}
	if err := CheckDispute(input.Event, input.DisputeActive); err != nil {
		return nil, "", err
	}
	next, err := Transition(milestone.Status, input.Event, input.Actor.Role)
	if err != nil {
		return nil, "", err
	}
	if input.Event == enums.MilestoneEventStart {
		if err := CheckSequence(input.Contract.Milestones, *milestone); err != nil {
			return nil, "", err
		}
	}
	return milestone, next, nil
}

func (s *service) Apply(ctx context.Context, input ApplyInput) (*ApplyResult, error) {
	milestone, next, err := s.Check(ctx, input)
	if err != nil {
		return nil, err
	}
	from := milestone.Status
	if err := s.repo.UpdateStatus(ctx, milestone.ID, from, next); err != nil {
		return nil, err
	}

	entry := &models.MilestoneHistory{
		ID:          uuid.New(),
		MilestoneID: milestone.ID,
		ContractID:  milestone.ContractID,
		FromStatus:  from,
		ToStatus:    next,
		Event:       input.Event,
		ActorID:     input.Actor.UserID,
		ActorRole:   input.Actor.Role,
		Note:        trimNote(input.Note),
		Attachments: dbtypes.StringList(cleanAttachments(input.Attachments)),
	}
	if err := s.repo.AppendHistory(ctx, entry); err != nil {
		return nil, err
	}

	milestone.Status = next
	s.metrics.IncTransition("milestone", string(next))
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"contract_id":  milestone.ContractID.String(),
			"milestone_id": milestone.ID.String(),
			"event":        input.Event,
			"from":         from,
			"to":           next,
			"actor_role":   input.Actor.Role,
		})
		s.logg.Info(logCtx, "milestone transitioned")
	}

	return &ApplyResult{Milestone: milestone, From: from, To: next, History: entry}, nil
}

func (s *service) History(ctx context.Context, contract *models.Contract, milestoneID uuid.UUID) ([]models.MilestoneHistory, error) {
	if contract == nil || findMilestone(contract, milestoneID) == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "milestone not found")
	}
	return s.repo.ListHistory(ctx, milestoneID)
}

// authorizeActor maps the acting user onto the contract. Operators and the
// processor act on every contract; parties only in their own role.
func authorizeActor(contract *models.Contract, actor types.Actor) error {
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return nil
	}
	role, ok := contract.RoleOf(actor.UserID)
	if !ok || role != actor.Role {
		return pkgerrors.New(pkgerrors.CodeForbidden, "actor is not a party to this contract")
	}
	return nil
}

// findMilestone returns a pointer into contract.Milestones so callers observe updates.
func findMilestone(contract *models.Contract, id uuid.UUID) *models.Milestone {
	for i := range contract.Milestones {
		if contract.Milestones[i].ID == id {
			return &contract.Milestones[i]
		}
	}
	return nil
}

func trimNote(note *string) *string {
	if note == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cleanAttachments(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if trimmed := strings.TrimSpace(ref); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
