package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/escrowhub-backend/pkg/db"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service applies escrow arithmetic to persisted payments and records money movement.
type Service interface {
	WithTx(tx *gorm.DB) Service

	RecordFunding(ctx context.Context, input RecordFundingInput) (*models.Payment, error)
	MarkAuthorized(ctx context.Context, paymentRef string) (*models.Payment, bool, error)
	MarkFunded(ctx context.Context, paymentRef string) (*models.Payment, bool, error)
	MarkCaptured(ctx context.Context, payment *models.Payment, at time.Time) error
	CheckRelease(ctx context.Context, contractID uuid.UUID, amount int64) (*models.Payment, error)
	Release(ctx context.Context, contractID uuid.UUID, amount int64) (*models.Payment, error)
	MarkFailed(ctx context.Context, paymentRef string) (*models.Payment, bool, error)
	MarkRefunded(ctx context.Context, paymentRef string) (*models.Payment, int64, error)
	GetByContract(ctx context.Context, contractID uuid.UUID) (*models.Payment, error)
	GetByRef(ctx context.Context, paymentRef string) (*models.Payment, error)

	RecordTransaction(ctx context.Context, input RecordTransactionInput) (*models.Transaction, bool, error)
	SettleByRef(ctx context.Context, txnType enums.TransactionType, externalRef string, status enums.TransactionStatus) (*models.Transaction, bool, error)
	ListTransactions(ctx context.Context, contractID uuid.UUID) ([]models.Transaction, error)
}

// RecordFundingInput describes the escrow created for a funding intent.
type RecordFundingInput struct {
	ContractID  uuid.UUID
	EscrowCents int64
	FeeCents    int64
	PaymentRef  string
}

// RecordTransactionInput captures an audit row for one money movement.
type RecordTransactionInput struct {
	ContractID  *uuid.UUID
	MilestoneID *uuid.UUID
	Type        enums.TransactionType
	Status      enums.TransactionStatus
	AmountCents int64
	PayerID     *uuid.UUID
	PayeeID     *uuid.UUID
	ExternalRef string
}

type ServiceParams struct {
	Payments     Repository
	Transactions TransactionRepository
	Logger       *logger.Logger
}

type service struct {
	payments     Repository
	transactions TransactionRepository
	logg         *logger.Logger
}

// NewService wires the ledger service with its repositories.
func NewService(params ServiceParams) (Service, error) {
	if params.Payments == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	return &service{
		payments:     params.Payments,
		transactions: params.Transactions,
		logg:         params.Logger,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{
		payments:     s.payments.WithTx(tx),
		transactions: s.transactions.WithTx(tx),
		logg:         s.logg,
	}
}

func (s *service) RecordFunding(ctx context.Context, input RecordFundingInput) (*models.Payment, error) {
	if _, err := s.payments.FindByContractID(ctx, input.ContractID); err == nil {
		return nil, duplicateFunding(input.ContractID)
	} else if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	payment, err := NewPayment(input.ContractID, input.EscrowCents, input.FeeCents, input.PaymentRef)
	if err != nil {
		return nil, err
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, duplicateFunding(input.ContractID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	s.logTransition(ctx, payment, "", payment.Status)
	return payment, nil
}

func (s *service) MarkAuthorized(ctx context.Context, paymentRef string) (*models.Payment, bool, error) {
	return s.apply(ctx, paymentRef, Authorize)
}

func (s *service) MarkFunded(ctx context.Context, paymentRef string) (*models.Payment, bool, error) {
	return s.apply(ctx, paymentRef, Fund)
}

func (s *service) MarkFailed(ctx context.Context, paymentRef string) (*models.Payment, bool, error) {
	return s.apply(ctx, paymentRef, Fail)
}

func (s *service) MarkRefunded(ctx context.Context, paymentRef string) (*models.Payment, int64, error) {
	var refunded int64
	payment, _, err := s.apply(ctx, paymentRef, func(p *models.Payment) (bool, error) {
		before := p.Status
		delta, err := Refund(p)
		refunded = delta
		return err == nil && before != p.Status, err
	})
	if err != nil {
		return nil, 0, err
	}
	return payment, refunded, nil
}

// MarkCaptured stamps the capture time once; later calls leave the original stamp.
func (s *service) MarkCaptured(ctx context.Context, payment *models.Payment, at time.Time) error {
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	if payment.CapturedAt != nil {
		return nil
	}
	captured := at.UTC()
	payment.CapturedAt = &captured
	if err := s.payments.Update(ctx, payment); err != nil {
		payment.CapturedAt = nil
		return err
	}
	return nil
}

func (s *service) CheckRelease(ctx context.Context, contractID uuid.UUID, amount int64) (*models.Payment, error) {
	payment, err := s.payments.FindByContractID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := CheckRelease(payment, amount); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *service) Release(ctx context.Context, contractID uuid.UUID, amount int64) (*models.Payment, error) {
	payment, err := s.payments.FindByContractID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	from := payment.Status
	if err := Release(payment, amount); err != nil {
		return nil, err
	}
	if err := CheckInvariants(payment); err != nil {
		return nil, err
	}
	if err := s.payments.Update(ctx, payment); err != nil {
		return nil, err
	}
	s.logTransition(ctx, payment, from, payment.Status)
	return payment, nil
}

func (s *service) GetByContract(ctx context.Context, contractID uuid.UUID) (*models.Payment, error) {
	return s.payments.FindByContractID(ctx, contractID)
}

func (s *service) GetByRef(ctx context.Context, paymentRef string) (*models.Payment, error) {
	ref := strings.TrimSpace(paymentRef)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	return s.payments.FindByRef(ctx, ref)
}

// RecordTransaction appends an audit row. A row already recorded for the same
// (type, external ref) is returned with created=false.
func (s *service) RecordTransaction(ctx context.Context, input RecordTransactionInput) (*models.Transaction, bool, error) {
	if !input.Type.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", input.Type))
	}
	if !input.Status.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction status %q", input.Status))
	}
	if input.AmountCents < 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "transaction amount cannot be negative")
	}

	ref := strings.TrimSpace(input.ExternalRef)
	if ref != "" {
		existing, err := s.transactions.FindByRef(ctx, input.Type, ref)
		if err == nil {
			return existing, false, nil
		}
		if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return nil, false, err
		}
	}

	txn := &models.Transaction{
		ID:          uuid.New(),
		ContractID:  input.ContractID,
		MilestoneID: input.MilestoneID,
		Type:        input.Type,
		Status:      input.Status,
		AmountCents: input.AmountCents,
		PayerID:     input.PayerID,
		PayeeID:     input.PayeeID,
	}
	if ref != "" {
		txn.ExternalRef = &ref
	}
	if input.Status != enums.TransactionStatusPending {
		now := time.Now().UTC()
		txn.SettledAt = &now
	}
	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
	}
	return txn, true, nil
}

// SettleByRef reconciles a pending transaction. It reports false when the row had
// already been settled.
func (s *service) SettleByRef(ctx context.Context, txnType enums.TransactionType, externalRef string, status enums.TransactionStatus) (*models.Transaction, bool, error) {
	if status != enums.TransactionStatusCompleted && status != enums.TransactionStatusFailed {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "transactions settle to completed or failed")
	}
	txn, err := s.transactions.FindByRef(ctx, txnType, strings.TrimSpace(externalRef))
	if err != nil {
		return nil, false, err
	}
	if txn.Status != enums.TransactionStatusPending {
		return txn, false, nil
	}
	now := time.Now().UTC()
	changed, err := s.transactions.Settle(ctx, txn.ID, status, now)
	if err != nil {
		return nil, false, err
	}
	if changed {
		txn.Status = status
		txn.SettledAt = &now
	}
	return txn, changed, nil
}

func (s *service) ListTransactions(ctx context.Context, contractID uuid.UUID) ([]models.Transaction, error) {
	return s.transactions.ListByContract(ctx, contractID)
}

func (s *service) apply(ctx context.Context, paymentRef string, mutate func(*models.Payment) (bool, error)) (*models.Payment, bool, error) {
	payment, err := s.GetByRef(ctx, paymentRef)
	if err != nil {
		return nil, false, err
	}
	from := payment.Status
	changed, err := mutate(payment)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return payment, false, nil
	}
	if err := CheckInvariants(payment); err != nil {
		return nil, false, err
	}
	if err := s.payments.Update(ctx, payment); err != nil {
		return nil, false, err
	}
	s.logTransition(ctx, payment, from, payment.Status)
	return payment, true, nil
}

func (s *service) logTransition(ctx context.Context, payment *models.Payment, from, to enums.PaymentStatus) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"contract_id":    payment.ContractID.String(),
		"payment_ref":    payment.PaymentRef,
		"from":           from,
		"to":             to,
		"on_hold_cents":  payment.OnHoldCents,
		"released_cents": payment.ReleasedCents,
	})
	s.logg.Info(logCtx, "payment transitioned")
}

func duplicateFunding(contractID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeDuplicateFunding, "contract already has a payment").
		WithDetails(map[string]any{"contractId": contractID.String()})
}
