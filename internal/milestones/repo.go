package milestones

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists milestones and their append-only history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateBatch(ctx context.Context, milestones []models.Milestone) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.MilestoneStatus) error
	AppendHistory(ctx context.Context, entry *models.MilestoneHistory) error
	ListHistory(ctx context.Context, milestoneID uuid.UUID) ([]models.MilestoneHistory, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a milestone repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateBatch(ctx context.Context, milestones []models.Milestone) error {
	if len(milestones) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&milestones).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	var milestone models.Milestone
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&milestone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "milestone not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load milestone")
	}
	return &milestone, nil
}

func (r *repository) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Milestone, error) {
	var rows []models.Milestone
	if err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list milestones")
	}
	return rows, nil
}

// UpdateStatus writes to only when the row still holds from.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.MilestoneStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Milestone{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update milestone status")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "milestone status changed concurrently").
			WithDetails(map[string]any{"milestoneId": id.String(), "from": from})
	}
	return nil
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.MilestoneHistory) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append milestone history")
	}
	return nil
}

func (r *repository) ListHistory(ctx context.Context, milestoneID uuid.UUID) ([]models.MilestoneHistory, error) {
	var rows []models.MilestoneHistory
	if err := r.db.WithContext(ctx).
		Where("milestone_id = ?", milestoneID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list milestone history")
	}
	return rows, nil
}
