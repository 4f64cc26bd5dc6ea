package payees

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByVendor(ctx context.Context, vendorID uuid.UUID) (*models.PayoutAccount, error)
	FindByDestination(ctx context.Context, destinationRef string) (*models.PayoutAccount, error)
	Create(ctx context.Context, account *models.PayoutAccount) error
	Save(ctx context.Context, account *models.PayoutAccount) error
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

// FindByVendor returns nil, nil when the vendor never linked an account.
func (r *repository) FindByVendor(ctx context.Context, vendorID uuid.UUID) (*models.PayoutAccount, error) {
	return r.findOne(ctx, "vendor_id = ?", vendorID)
}

// FindByDestination returns nil, nil for unknown connected accounts.
func (r *repository) FindByDestination(ctx context.Context, destinationRef string) (*models.PayoutAccount, error) {
	return r.findOne(ctx, "destination_ref = ?", destinationRef)
}

func (r *repository) findOne(ctx context.Context, where string, arg any) (*models.PayoutAccount, error) {
	var account models.PayoutAccount
	if err := r.db.WithContext(ctx).Where(where, arg).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout account")
	}
	return &account, nil
}

func (r *repository) Create(ctx context.Context, account *models.PayoutAccount) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout account")
	}
	return nil
}

func (r *repository) Save(ctx context.Context, account *models.PayoutAccount) error {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"destination_ref":   account.DestinationRef,
			"details_submitted": account.DetailsSubmitted,
			"charges_enabled":   account.ChargesEnabled,
			"payouts_enabled":   account.PayoutsEnabled,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update payout account")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payout account not found")
	}
	return nil
}
