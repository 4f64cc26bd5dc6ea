package ledger

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

// TransactionRepository persists the append-only money movement audit.
type TransactionRepository interface {
	WithTx(tx *gorm.DB) TransactionRepository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByRef(ctx context.Context, txnType enums.TransactionType, externalRef string) (*models.Transaction, error)
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Transaction, error)
	Settle(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, at time.Time) (bool, error)
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository returns a transaction repository bound to the provided database.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) WithTx(tx *gorm.DB) TransactionRepository {
	if tx == nil {
		return r
	}
	return &transactionRepository{db: tx}
}

func (r *transactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *transactionRepository) FindByRef(ctx context.Context, txnType enums.TransactionType, externalRef string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND external_ref = ?", txnType, externalRef).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return &txn, nil
}

func (r *transactionRepository) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return rows, nil
}

// Settle moves a pending transaction to its final status. It reports false when the
// row was no longer pending.
func (r *transactionRepository) Settle(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(map[string]any{
			"status":     status,
			"settled_at": at,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "settle transaction")
	}
	return res.RowsAffected > 0, nil
}
