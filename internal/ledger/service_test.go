package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
)

type fakeRepository struct {
	byContract map[uuid.UUID]*models.Payment
	updates    int
	updateErr  error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{byContract: map[uuid.UUID]*models.Payment{}}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Create(ctx context.Context, payment *models.Payment) error {
	clone := *payment
	f.byContract[payment.ContractID] = &clone
	return nil
}

func (f *fakeRepository) FindByContractID(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	p, ok := f.byContract[contractID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	clone := *p
	return &clone, nil
}

func (f *fakeRepository) FindByRef(ctx context.Context, paymentRef string) (*models.Payment, error) {
	for _, p := range f.byContract {
		if p.PaymentRef == paymentRef {
			clone := *p
			return &clone, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
}

func (f *fakeRepository) Update(ctx context.Context, payment *models.Payment) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	stored := f.byContract[payment.ContractID]
	if stored == nil || stored.Version != payment.Version {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment was modified concurrently")
	}
	payment.Version++
	clone := *payment
	f.byContract[payment.ContractID] = &clone
	f.updates++
	return nil
}

type fakeTransactionRepository struct {
	rows []*models.Transaction
}

func (f *fakeTransactionRepository) WithTx(tx *gorm.DB) TransactionRepository { return f }

func (f *fakeTransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	clone := *txn
	f.rows = append(f.rows, &clone)
	return nil
}

func (f *fakeTransactionRepository) FindByRef(ctx context.Context, txnType enums.TransactionType, externalRef string) (*models.Transaction, error) {
	for _, row := range f.rows {
		if row.Type == txnType && row.ExternalRef != nil && *row.ExternalRef == externalRef {
			clone := *row
			return &clone, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
}

func (f *fakeTransactionRepository) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, row := range f.rows {
		if row.ContractID != nil && *row.ContractID == contractID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeTransactionRepository) Settle(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, at time.Time) (bool, error) {
	for _, row := range f.rows {
		if row.ID == id && row.Status == enums.TransactionStatusPending {
			row.Status = status
			row.SettledAt = &at
			return true, nil
		}
	}
	return false, nil
}

func newTestService(t *testing.T) (Service, *fakeRepository, *fakeTransactionRepository) {
	t.Helper()
	payments := newFakeRepository()
	txns := &fakeTransactionRepository{}
	svc, err := NewService(ServiceParams{Payments: payments, Transactions: txns})
	require.NoError(t, err)
	return svc, payments, txns
}

func TestNewServiceRequiresRepositories(t *testing.T) {
	_, err := NewService(ServiceParams{Transactions: &fakeTransactionRepository{}})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Payments: newFakeRepository()})
	require.Error(t, err)
}

func TestServiceFundingLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, payments, _ := newTestService(t)
	contractID := uuid.New()

	payment, err := svc.RecordFunding(ctx, RecordFundingInput{ContractID: contractID, EscrowCents: 100000, FeeCents: 10000, PaymentRef: "pi_1"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusProcessing, payment.Status)

	_, err = svc.RecordFunding(ctx, RecordFundingInput{ContractID: contractID, EscrowCents: 100000, FeeCents: 10000, PaymentRef: "pi_2"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDuplicateFunding))

	payment, changed, err := svc.MarkAuthorized(ctx, "pi_1")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, enums.PaymentStatusOnHold, payment.Status)

	payment, changed, err = svc.MarkFunded(ctx, "pi_1")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, enums.PaymentStatusFunded, payment.Status)

	_, changed, err = svc.MarkFunded(ctx, "pi_1")
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 2, payments.updates)

	_, _, err = svc.MarkAuthorized(ctx, "pi_unknown")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestServiceReleaseConservesEscrow(t *testing.T) {
	ctx := context.Background()
	svc, payments, _ := newTestService(t)
	contractID := uuid.New()

	_, err := svc.RecordFunding(ctx, RecordFundingInput{ContractID: contractID, EscrowCents: 100000, FeeCents: 10000, PaymentRef: "pi_r"})
	require.NoError(t, err)
	_, _, err = svc.MarkFunded(ctx, "pi_r")
	require.NoError(t, err)

	_, err = svc.CheckRelease(ctx, contractID, 40000)
	require.NoError(t, err)

	payment, err := svc.Release(ctx, contractID, 40000)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPartiallyReleased, payment.Status)

	_, err = svc.Release(ctx, contractID, 60001)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientEscrow))

	stored, err := payments.FindByContractID(ctx, contractID)
	require.NoError(t, err)
	require.Equal(t, int64(60000), stored.OnHoldCents)
	require.Equal(t, int64(40000), stored.ReleasedCents)
	require.Equal(t, stored.EscrowCents-stored.RefundedCents, stored.OnHoldCents+stored.ReleasedCents)
}

func TestServiceReleaseSurfacesVersionConflict(t *testing.T) {
	ctx := context.Background()
	svc, payments, _ := newTestService(t)
	contractID := uuid.New()
	_, err := svc.RecordFunding(ctx, RecordFundingInput{ContractID: contractID, EscrowCents: 1000, PaymentRef: "pi_c"})
	require.NoError(t, err)
	_, _, err = svc.MarkFunded(ctx, "pi_c")
	require.NoError(t, err)

	payments.updateErr = pkgerrors.New(pkgerrors.CodeConflict, "payment was modified concurrently")
	_, err = svc.Release(ctx, contractID, 100)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))
	require.True(t, pkgerrors.MetadataFor(pkgerrors.CodeConflict).Retryable)
}

func TestServiceMarkCapturedOnce(t *testing.T) {
	ctx := context.Background()
	svc, payments, _ := newTestService(t)
	contractID := uuid.New()
	_, err := svc.RecordFunding(ctx, RecordFundingInput{ContractID: contractID, EscrowCents: 1000, PaymentRef: "pi_cap"})
	require.NoError(t, err)

	payment, err := svc.GetByContract(ctx, contractID)
	require.NoError(t, err)
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, svc.MarkCaptured(ctx, payment, first))
	require.NoError(t, svc.MarkCaptured(ctx, payment, first.Add(time.Hour)))
	require.Equal(t, first, *payment.CapturedAt)
	require.Equal(t, 1, payments.updates)
}

func TestServiceRefundAndFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	refundContract := uuid.New()
	_, err := svc.RecordFunding(ctx, RecordFundingInput{ContractID: refundContract, EscrowCents: 1000, PaymentRef: "pi_refund"})
	require.NoError(t, err)
	_, _, err = svc.MarkFunded(ctx, "pi_refund")
	require.NoError(t, err)
	_, err = svc.Release(ctx, refundContract, 300)
	require.NoError(t, err)

	payment, refunded, err := svc.MarkRefunded(ctx, "pi_refund")
	require.NoError(t, err)
	require.Equal(t, int64(700), refunded)
	require.Equal(t, enums.PaymentStatusRefunded, payment.Status)

	_, refunded, err = svc.MarkRefunded(ctx, "pi_refund")
	require.NoError(t, err)
	require.Zero(t, refunded)

	_, err = svc.Release(ctx, refundContract, 1)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	failContract := uuid.New()
	_, err = svc.RecordFunding(ctx, RecordFundingInput{ContractID: failContract, EscrowCents: 1000, PaymentRef: "pi_fail"})
	require.NoError(t, err)
	payment, changed, err := svc.MarkFailed(ctx, "pi_fail")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, enums.PaymentStatusFailed, payment.Status)

	_, _, err = svc.MarkFunded(ctx, "pi_fail")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
}

func TestServiceTransactionsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	svc, _, txns := newTestService(t)
	contractID := uuid.New()

	txn, created, err := svc.RecordTransaction(ctx, RecordTransactionInput{
		ContractID:  &contractID,
		Type:        enums.TransactionTypeRelease,
		Status:      enums.TransactionStatusPending,
		AmountCents: 40000,
		ExternalRef: "tr_1",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Nil(t, txn.SettledAt)

	_, created, err = svc.RecordTransaction(ctx, RecordTransactionInput{
		ContractID:  &contractID,
		Type:        enums.TransactionTypeRelease,
		Status:      enums.TransactionStatusPending,
		AmountCents: 40000,
		ExternalRef: "tr_1",
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, txns.rows, 1)

	settled, changed, err := svc.SettleByRef(ctx, enums.TransactionTypeRelease, "tr_1", enums.TransactionStatusCompleted)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, enums.TransactionStatusCompleted, settled.Status)

	_, changed, err = svc.SettleByRef(ctx, enums.TransactionTypeRelease, "tr_1", enums.TransactionStatusFailed)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, enums.TransactionStatusCompleted, txns.rows[0].Status)
	require.Equal(t, int64(40000), txns.rows[0].AmountCents)

	_, _, err = svc.SettleByRef(ctx, enums.TransactionTypeRelease, "tr_1", enums.TransactionStatusPending)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, _, err = svc.RecordTransaction(ctx, RecordTransactionInput{Type: "bogus", Status: enums.TransactionStatusPending})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	rows, err := svc.ListTransactions(ctx, contractID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
