package disputes

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/escrowhub-backend/pkg/db"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const activeDisputeConstraint = "ux_disputes_contract_active"

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindActiveByContract(ctx context.Context, contractID uuid.UUID) (*models.Dispute, error)
	FindLatestByContract(ctx context.Context, contractID uuid.UUID) (*models.Dispute, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (*ListResult, error)
	Advance(ctx context.Context, dispute *models.Dispute, to enums.DisputeStatus, updates map[string]any) error
}

type ListFilter struct {
	ContractID *uuid.UUID
	Status     *enums.DisputeStatus
}

type ListResult struct {
	Disputes   []models.Dispute
	NextCursor string
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	if err := r.db.WithContext(ctx).Create(dispute).Error; err != nil {
		if db.IsUniqueViolation(err, activeDisputeConstraint) {
			return pkgerrors.New(pkgerrors.CodeContractDisputed, "contract already has an unresolved dispute")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispute")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&dispute).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	return &dispute, nil
}

// FindActiveByContract returns nil, nil when the contract has no unresolved dispute.
func (r *repository) FindActiveByContract(ctx context.Context, contractID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("contract_id = ? AND status <> ?", contractID, enums.DisputeStatusResolved).
		First(&dispute).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active dispute")
	}
	return &dispute, nil
}

// FindLatestByContract returns nil, nil when the contract was never disputed.
func (r *repository) FindLatestByContract(ctx context.Context, contractID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at DESC").
		First(&dispute).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest dispute")
	}
	return &dispute, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := r.db.WithContext(ctx).Model(&models.Dispute{})
	if filter.ContractID != nil {
		query = query.Where("contract_id = ?", *filter.ContractID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Dispute
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list disputes")
	}

	page, next := pagination.Trim(rows, params.Limit, func(row models.Dispute) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return &ListResult{Disputes: page, NextCursor: next}, nil
}

// Advance moves the dispute to status to while the row still holds its current status.
func (r *repository) Advance(ctx context.Context, dispute *models.Dispute, to enums.DisputeStatus, updates map[string]any) error {
	values := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", dispute.ID, dispute.Status).
		Updates(values)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update dispute")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "dispute changed concurrently").
			WithDetails(map[string]any{"disputeId": dispute.ID.String(), "from": dispute.Status})
	}
	dispute.Status = to
	return nil
}
