package contracts

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists contracts and loads them with their ordered milestones.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, contract *models.Contract) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (*ListResult, error)
	UpdateStatus(ctx context.Context, contract *models.Contract, to enums.ContractStatus) error
}

// ListFilter narrows contract listings. A nil PartyID lists every contract.
type ListFilter struct {
	PartyID *uuid.UUID
	Role    *enums.ActorRole
	Status  *enums.ContractStatus
}

type ListResult struct {
	Contracts  []models.Contract
	NextCursor string
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a contract repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the contract and its milestones in one statement batch.
func (r *repository) Create(ctx context.Context, contract *models.Contract) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(contract).Error; err != nil {
		return err
	}
	if len(contract.Milestones) == 0 {
		return nil
	}
	for i := range contract.Milestones {
		contract.Milestones[i].ContractID = contract.ID
	}
	return db.Create(&contract.Milestones).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// FindByIDForUpdate takes a row lock on the contract for the rest of the transaction.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	db := r.db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.find(db, id)
}

func (r *repository) find(db *gorm.DB, id uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	err := db.
		Preload("Milestones", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&contract).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "contract not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load contract")
	}
	return &contract, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := r.db.WithContext(ctx).Model(&models.Contract{})
	if filter.PartyID != nil {
		switch {
		case filter.Role != nil && *filter.Role == enums.ActorRoleClient:
			query = query.Where("client_id = ?", *filter.PartyID)
		case filter.Role != nil && *filter.Role == enums.ActorRoleVendor:
			query = query.Where("vendor_id = ?", *filter.PartyID)
		default:
			query = query.Where("client_id = ? OR vendor_id = ?", *filter.PartyID, *filter.PartyID)
		}
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Contract
	if err := query.
		Preload("Milestones", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list contracts")
	}

	page, next := pagination.Trim(rows, params.Limit, func(row models.Contract) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return &ListResult{Contracts: page, NextCursor: next}, nil
}

// UpdateStatus writes to only when the row still holds the caller's status
// and version, then advances both on the in-memory contract.
func (r *repository) UpdateStatus(ctx context.Context, contract *models.Contract, to enums.ContractStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id = ? AND status = ? AND version = ?", contract.ID, contract.Status, contract.Version).
		Updates(map[string]any{
			"status":     to,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update contract status")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "contract changed concurrently").
			WithDetails(map[string]any{"contractId": contract.ID.String(), "from": contract.Status})
	}
	contract.Status = to
	contract.Version++
	return nil
}
