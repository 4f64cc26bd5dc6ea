package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages persistence for escrow payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByContractID(ctx context.Context, contractID uuid.UUID) (*models.Payment, error)
	FindByRef(ctx context.Context, paymentRef string) (*models.Payment, error)
	Update(ctx context.Context, payment *models.Payment) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByContractID(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("contract_id = ?", contractID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return &payment, nil
}

func (r *repository) FindByRef(ctx context.Context, paymentRef string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("payment_ref = ?", paymentRef).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return &payment, nil
}

// Update persists the mutable ledger columns guarded by the row version.
func (r *repository) Update(ctx context.Context, payment *models.Payment) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND version = ?", payment.ID, payment.Version).
		Updates(map[string]any{
			"on_hold_cents":  payment.OnHoldCents,
			"released_cents": payment.ReleasedCents,
			"refunded_cents": payment.RefundedCents,
			"status":         payment.Status,
			"captured_at":    payment.CapturedAt,
			"version":        payment.Version + 1,
			"updated_at":     now,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update payment")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment was modified concurrently").
			WithDetails(map[string]any{"paymentId": payment.ID.String(), "version": payment.Version})
	}
	payment.Version++
	payment.UpdatedAt = now
	return nil
}
