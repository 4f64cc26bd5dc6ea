package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/escrowhub-backend/internal/contracts"
	"github.com/angelmondragon/escrowhub-backend/internal/disputes"
	"github.com/angelmondragon/escrowhub-backend/internal/ledger"
	"github.com/angelmondragon/escrowhub-backend/internal/milestones"
	"github.com/angelmondragon/escrowhub-backend/internal/payees"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/angelmondragon/escrowhub-backend/pkg/metrics"
	"github.com/angelmondragon/escrowhub-backend/pkg/outbox"
	"github.com/angelmondragon/escrowhub-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/escrowhub-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// contractStates is the slice of the contract service the orchestrator drives.
type contractStates interface {
	Get(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error)
	LoadForUpdate(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (*models.Contract, error)
	Transition(ctx context.Context, tx *gorm.DB, contract *models.Contract, path ...enums.ContractStatus) error
	ApplyDerived(ctx context.Context, tx *gorm.DB, contract *models.Contract) ([]enums.ContractStatus, error)
}

// Service coordinates funding, milestone progress and payouts across the
// ledger, the state machines and the payment processor.
type Service interface {
	InitiateFunding(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*FundingResult, error)

	StartMilestone(ctx context.Context, input MilestoneAction) (*MilestoneResult, error)
	SubmitMilestone(ctx context.Context, input MilestoneAction) (*MilestoneResult, error)
	RequestChanges(ctx context.Context, input MilestoneAction) (*MilestoneResult, error)
	ApproveMilestone(ctx context.Context, input MilestoneAction) (*MilestoneResult, error)
	ReleaseMilestone(ctx context.Context, input MilestoneAction) (*ReleaseResult, error)

	ManualRelease(ctx context.Context, input MilestoneAction) (*ReleaseResult, error)
	ManualRefund(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Payment, error)
	ResumeMilestone(ctx context.Context, input MilestoneAction) (*MilestoneResult, error)

	Dispatch(ctx context.Context, evt ProcessorEvent) error
	OnAuthorized(ctx context.Context, evt ProcessorEvent) error
	OnCaptureConfirmed(ctx context.Context, evt ProcessorEvent) error
	OnPaymentFailed(ctx context.Context, evt ProcessorEvent) error
	OnPaymentCanceled(ctx context.Context, evt ProcessorEvent) error
	OnTransferConfirmed(ctx context.Context, evt ProcessorEvent) error
	OnPayoutConfirmed(ctx context.Context, evt ProcessorEvent) error
	OnPayoutFailed(ctx context.Context, evt ProcessorEvent) error
	OnAccountUpdated(ctx context.Context, evt ProcessorEvent) error

	GetPayment(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Payment, error)
	ListTransactions(ctx context.Context, contractID uuid.UUID, actor types.Actor) ([]models.Transaction, error)
	MilestoneHistory(ctx context.Context, contractID, milestoneID uuid.UUID, actor types.Actor) ([]models.MilestoneHistory, error)
}

type MilestoneAction struct {
	ContractID  uuid.UUID
	MilestoneID uuid.UUID
	Actor       types.Actor
	Note        *string
	Attachments []string
}

type FundingResult struct {
	Contract     *models.Contract
	Payment      *models.Payment
	ClientSecret string
}

type MilestoneResult struct {
	Contract  *models.Contract
	Milestone *models.Milestone
	From      enums.MilestoneStatus
	To        enums.MilestoneStatus
}

type ReleaseResult struct {
	MilestoneResult
	Payment     *models.Payment
	Transaction *models.Transaction
}

type ServiceParams struct {
	Tx         txRunner
	Locker     Locker
	Processor  Processor
	Ledger     ledger.Service
	Contracts  contractStates
	Milestones milestones.Service
	Disputes   disputes.Service
	Payees     payees.Service
	Outbox     outboxPublisher
	Fees       *FeeSchedule
	Logger     *logger.Logger
	Metrics    *metrics.EscrowMetrics
	Clock      func() time.Time
}

type service struct {
	tx         txRunner
	locker     Locker
	processor  Processor
	ledger     ledger.Service
	contracts  contractStates
	milestones milestones.Service
	disputes   disputes.Service
	payees     payees.Service
	outbox     outboxPublisher
	fees       *FeeSchedule
	logg       *logger.Logger
	metrics    *metrics.EscrowMetrics
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Locker == nil:
		return nil, fmt.Errorf("contract locker required")
	case params.Processor == nil:
		return nil, fmt.Errorf("payment processor required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Contracts == nil:
		return nil, fmt.Errorf("contract service required")
	case params.Milestones == nil:
		return nil, fmt.Errorf("milestone service required")
	case params.Disputes == nil:
		return nil, fmt.Errorf("dispute service required")
	case params.Payees == nil:
		return nil, fmt.Errorf("payee service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Fees == nil:
		return nil, fmt.Errorf("fee schedule required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		tx:         params.Tx,
		locker:     params.Locker,
		processor:  params.Processor,
		ledger:     params.Ledger,
		contracts:  params.Contracts,
		milestones: params.Milestones,
		disputes:   params.Disputes,
		payees:     params.Payees,
		outbox:     params.Outbox,
		fees:       params.Fees,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        clock,
	}, nil
}

// InitiateFunding opens the processor funding intent for the contract budget
// plus the platform fee and parks the contract in funding_processing.
func (s *service) InitiateFunding(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*FundingResult, error) {
	if actor.Role != enums.ActorRoleClient {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the client may fund a contract")
	}
	var result *FundingResult
	err := s.withContract(ctx, contractID, func(tx *gorm.DB, contract *models.Contract) error {
		if err := contracts.CheckAccess(contract, actor); err != nil {
			return err
		}
		if contract.Status != enums.ContractStatusFundingPending {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract is not awaiting funding").
				WithDetails(map[string]any{"entity": "contract", "from": contract.Status, "to": enums.ContractStatusFundingProcessing})
		}
		led := s.ledger.WithTx(tx)
		if _, err := led.GetByContract(ctx, contract.ID); err == nil {
			return pkgerrors.New(pkgerrors.CodeDuplicateFunding, "contract already has a payment").
				WithDetails(map[string]any{"contractId": contract.ID.String()})
		} else if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return err
		}

		fee := s.fees.FeeCents(contract.ContractType, contract.BudgetCents)
		intent, err := s.processor.CreateFundingIntent(ctx, FundingIntentInput{
			AmountCents:   contract.BudgetCents + fee,
			TransferGroup: contract.ExternalID,
			Metadata: map[string]string{
				"contract_id": contract.ID.String(),
				"external_id": contract.ExternalID,
				"client_id":   contract.ClientID.String(),
			},
			IdempotencyKey: "funding:" + contract.ID.String(),
		})
		s.metrics.ObserveProcessorCall("create_funding_intent", err)
		if err != nil {
			return err
		}

		payment, err := led.RecordFunding(ctx, ledger.RecordFundingInput{
			ContractID:  contract.ID,
			EscrowCents: contract.BudgetCents,
			FeeCents:    fee,
			PaymentRef:  intent.Ref,
		})
		if err != nil {
			return err
		}
		s.metrics.IncTransition("payment", string(payment.Status))
		if err := s.contracts.Transition(ctx, tx, contract, enums.ContractStatusFundingProcessing); err != nil {
			return err
		}
		if err := s.emitContract(ctx, tx, enums.EventContractFundingStarted, contract, actor); err != nil {
			return err
		}
		result = &FundingResult{Contract: contract, Payment: payment, ClientSecret: intent.ClientSecret}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StartMilestone captures the escrow on the first start of the contract.
func (s *service) StartMilestone(ctx context.Context, input MilestoneAction) (*MilestoneResult, error) {
	var result *MilestoneResult
	err := s.withContract(ctx, input.ContractID, func(tx *gorm.DB, contract *models.Contract) error {
		apply, err := s.checkMilestone(ctx, tx, contract, input, enums.MilestoneEventStart)
		if err != nil {
			return err
		}
		if err := requireContractStatus(contract, "start milestone", enums.ContractStatusActive); err != nil {
			return err
		}
		payment, err := s.ledger.WithTx(tx).GetByContract(ctx, contract.ID)
		if err != nil {
			return err
		}
		if err := s.ensureCaptured(ctx, tx, contract, payment); err != nil {
			return err
		}
		result, err = s.applyMilestone(ctx, tx, contract, apply)
		if err != nil {
			return err
		}
		return s.emitMilestone(ctx, tx, enums.EventMilestoneStarted, contract, result, input.Actor, counterparty(contract, input.Actor), input.Note)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) SubmitMilestone(ctx context.Context, input MilestoneAction) (*MilestoneResult, error) {
	return s.progress(ctx, input, enums.MilestoneEventSubmit, enums.EventMilestoneSubmitted, func(c *models.Contract) uuid.UUID { return c.ClientID })
}

func (s *service) RequestChanges(ctx context.Context, input MilestoneAction) (*MilestoneResult, error) {
	return s.progress(ctx, input, enums.MilestoneEventRequestChanges, enums.EventMilestoneChangesRequested, func(c *models.Contract) uuid.UUID { return c.VendorID })
}

func (s *service) ApproveMilestone(ctx context.Context, input MilestoneAction) (*MilestoneResult, error) {
	return s.progress(ctx, input, enums.MilestoneEventApprove, enums.EventMilestoneApproved, func(c *models.Contract) uuid.UUID { return c.VendorID })
}

// ResumeMilestone puts a milestone whose dispute was resolved back to work.
func (s *service) ResumeMilestone(ctx context.Context, input MilestoneAction) (*MilestoneResult, error) {
	if !input.Actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators may resume milestones")
	}
	return s.progress(ctx, input, enums.MilestoneEventResume, enums.EventMilestoneStarted, func(c *models.Contract) uuid.UUID { return c.VendorID })
}

func (s *service) progress(ctx context.Context, input MilestoneAction, event enums.MilestoneEvent, eventType enums.OutboxEventType, recipient func(*models.Contract) uuid.UUID) (*MilestoneResult, error) {
	var result *MilestoneResult
	err := s.withContract(ctx, input.ContractID, func(tx *gorm.DB, contract *models.Contract) error {
		apply, err := s.checkMilestone(ctx, tx, contract, input, event)
		if err != nil {
			return err
		}
		if err := requireContractStatus(contract, string(event)+" milestone", enums.ContractStatusActive); err != nil {
			return err
		}
		result, err = s.applyMilestone(ctx, tx, contract, apply)
		if err != nil {
			return err
		}
		if event == enums.MilestoneEventApprove {
			if _, err := s.contracts.ApplyDerived(ctx, tx, contract); err != nil {
				return err
			}
		}
		return s.emitMilestone(ctx, tx, eventType, contract, result, input.Actor, recipient(contract), input.Note)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ReleaseMilestone(ctx context.Context, input MilestoneAction) (*ReleaseResult, error) {
	return s.release(ctx, input, false)
}

// ManualRelease pays out a milestone an operator resolved in the vendor's favour.
func (s *service) ManualRelease(ctx context.Context, input MilestoneAction) (*ReleaseResult, error) {
	if !input.Actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators may release manually")
	}
	return s.release(ctx, input, true)
}

func (s *service) release(ctx context.Context, input MilestoneAction, manual bool) (*ReleaseResult, error) {
	var result *ReleaseResult
	err := s.withContract(ctx, input.ContractID, func(tx *gorm.DB, contract *models.Contract) error {
		if manual {
			if _, err := s.disputes.WithTx(tx).RequireResolved(ctx, contract.ID); err != nil {
				return err
			}
		}
		apply, err := s.checkMilestone(ctx, tx, contract, input, enums.MilestoneEventRelease)
		if err != nil {
			return err
		}
		milestone := findMilestone(contract, input.MilestoneID)
		if manual && milestone.Status != enums.MilestoneStatusDisputedResolved {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "manual release needs a milestone resolved by dispute").
				WithDetails(map[string]any{"entity": "milestone", "from": milestone.Status, "event": enums.MilestoneEventRelease})
		}
		if err := requireContractStatus(contract, "release milestone", enums.ContractStatusActive, enums.ContractStatusInReview); err != nil {
			return err
		}

		destination, err := s.payees.WithTx(tx).GetPayoutDestination(ctx, contract.VendorID)
		if err != nil {
			return err
		}
		led := s.ledger.WithTx(tx)
		payment, err := led.CheckRelease(ctx, contract.ID, milestone.AmountCents)
		if err != nil {
			return err
		}
		if err := s.ensureCaptured(ctx, tx, contract, payment); err != nil {
			return err
		}

		transfer, err := s.processor.Transfer(ctx, TransferInput{
			Destination:   destination,
			AmountCents:   milestone.AmountCents,
			TransferGroup: contract.ExternalID,
			Metadata: map[string]string{
				"contract_id":  contract.ID.String(),
				"milestone_id": milestone.ID.String(),
				"vendor_id":    contract.VendorID.String(),
			},
			IdempotencyKey: "release:" + milestone.ID.String(),
		})
		s.metrics.ObserveProcessorCall("transfer", err)
		if err != nil {
			return err
		}

		from := payment.Status
		payment, err = led.Release(ctx, contract.ID, milestone.AmountCents)
		if err != nil {
			return err
		}
		if payment.Status != from {
			s.metrics.IncTransition("payment", string(payment.Status))
		}
		applied, err := s.applyMilestone(ctx, tx, contract, apply)
		if err != nil {
			return err
		}
		txn, _, err := led.RecordTransaction(ctx, ledger.RecordTransactionInput{
			ContractID:  &contract.ID,
			MilestoneID: &applied.Milestone.ID,
			Type:        enums.TransactionTypeRelease,
			Status:      enums.TransactionStatusPending,
			AmountCents: milestone.AmountCents,
			PayerID:     &contract.ClientID,
			PayeeID:     &contract.VendorID,
			ExternalRef: transfer.Ref,
		})
		if err != nil {
			return err
		}
		if _, err := s.contracts.ApplyDerived(ctx, tx, contract); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentReleased,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         outbox.NewActorRef(input.Actor.UserID, input.Actor.Role),
			Data: payloads.PaymentReleasedEvent{
				ContractID:    contract.ID,
				MilestoneID:   milestone.ID,
				VendorID:      contract.VendorID,
				AmountCents:   milestone.AmountCents,
				ReleasedCents: payment.ReleasedCents,
				OnHoldCents:   payment.OnHoldCents,
				PaymentStatus: payment.Status,
				TransferRef:   transfer.Ref,
			},
		}); err != nil {
			return err
		}
		result = &ReleaseResult{MilestoneResult: *applied, Payment: payment, Transaction: txn}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.AddReleased(result.Milestone.AmountCents)
	return result, nil
}

// ManualRefund returns whatever is still held in escrow to the client once a
// dispute has been resolved. The contract status is left to the operator.
func (s *service) ManualRefund(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Payment, error) {
	if !actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators may refund manually")
	}
	var refunded *models.Payment
	err := s.withContract(ctx, contractID, func(tx *gorm.DB, contract *models.Contract) error {
		if _, err := s.disputes.WithTx(tx).RequireResolved(ctx, contract.ID); err != nil {
			return err
		}
		led := s.ledger.WithTx(tx)
		payment, err := led.GetByContract(ctx, contract.ID)
		if err != nil {
			return err
		}
		if payment.Status == enums.PaymentStatusRefunded || payment.OnHoldCents == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "nothing left in escrow to refund").
				WithDetails(map[string]any{"entity": "payment", "from": payment.Status, "to": enums.PaymentStatusRefunded, "onHold": payment.OnHoldCents})
		}

		result, err := s.processor.Refund(ctx, RefundInput{
			PaymentRef:     payment.PaymentRef,
			AmountCents:    payment.OnHoldCents,
			Captured:       payment.CapturedAt != nil,
			Metadata:       map[string]string{"contract_id": contract.ID.String()},
			IdempotencyKey: "refund:" + payment.PaymentRef,
		})
		s.metrics.ObserveProcessorCall("refund", err)
		if err != nil {
			return err
		}

		updated, delta, err := led.MarkRefunded(ctx, payment.PaymentRef)
		if err != nil {
			return err
		}
		s.metrics.IncTransition("payment", string(updated.Status))
		if _, _, err := led.RecordTransaction(ctx, ledger.RecordTransactionInput{
			ContractID:  &contract.ID,
			Type:        enums.TransactionTypeRefund,
			Status:      enums.TransactionStatusCompleted,
			AmountCents: delta,
			PayeeID:     &contract.ClientID,
			ExternalRef: result.Ref,
		}); err != nil {
			return err
		}
		refunded = updated
		return s.emitPaymentStatus(ctx, tx, enums.EventPaymentRefunded, updated, actor, "manual refund")
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// Dispatch routes a normalized processor event to its callback.
func (s *service) Dispatch(ctx context.Context, evt ProcessorEvent) error {
	switch evt.Kind {
	case EventAuthorized:
		return s.OnAuthorized(ctx, evt)
	case EventCaptured:
		return s.OnCaptureConfirmed(ctx, evt)
	case EventPaymentFailed:
		return s.OnPaymentFailed(ctx, evt)
	case EventPaymentCanceled:
		return s.OnPaymentCanceled(ctx, evt)
	case EventTransferCreated:
		return s.OnTransferConfirmed(ctx, evt)
	case EventPayoutPaid:
		return s.OnPayoutConfirmed(ctx, evt)
	case EventPayoutFailed:
		return s.OnPayoutFailed(ctx, evt)
	case EventAccountUpdated:
		return s.OnAccountUpdated(ctx, evt)
	default:
		s.ignore(ctx, evt, "unhandled processor event")
		return nil
	}
}

func (s *service) OnAuthorized(ctx context.Context, evt ProcessorEvent) error {
	return s.paymentCallback(ctx, evt, func(tx *gorm.DB, contract *models.Contract, led ledger.Service) error {
		payment, changed, err := led.MarkAuthorized(ctx, evt.Ref)
		if err != nil {
			return err
		}
		if changed {
			s.metrics.IncTransition("payment", string(payment.Status))
		}
		if contract.Status == enums.ContractStatusFundingProcessing {
			return s.contracts.Transition(ctx, tx, contract, enums.ContractStatusFundingOnHold)
		}
		return nil
	})
}

// OnCaptureConfirmed activates the contract. Redeliveries find the payment
// funded and the funding transaction recorded, and change nothing.
func (s *service) OnCaptureConfirmed(ctx context.Context, evt ProcessorEvent) error {
	return s.paymentCallback(ctx, evt, func(tx *gorm.DB, contract *models.Contract, led ledger.Service) error {
		payment, changed, err := led.MarkFunded(ctx, evt.Ref)
		if err != nil {
			return err
		}
		if changed {
			s.metrics.IncTransition("payment", string(payment.Status))
		}
		switch contract.Status {
		case enums.ContractStatusFundingProcessing, enums.ContractStatusFundingOnHold:
			if err := s.contracts.Transition(ctx, tx, contract, enums.ContractStatusActive); err != nil {
				return err
			}
			if err := s.emitContract(ctx, tx, enums.EventContractFunded, contract, types.SystemActor()); err != nil {
				return err
			}
		}
		_, _, err = led.RecordTransaction(ctx, ledger.RecordTransactionInput{
			ContractID:  &contract.ID,
			Type:        enums.TransactionTypeFunding,
			Status:      enums.TransactionStatusCompleted,
			AmountCents: payment.TotalCents,
			PayerID:     &contract.ClientID,
			ExternalRef: payment.PaymentRef,
		})
		return err
	})
}

// OnPaymentFailed closes the payment. The contract stays in funding_processing
// for an operator; later callbacks on the same intent are acknowledged and
// change nothing.
func (s *service) OnPaymentFailed(ctx context.Context, evt ProcessorEvent) error {
	return s.paymentCallback(ctx, evt, func(tx *gorm.DB, contract *models.Contract, led ledger.Service) error {
		payment, changed, err := led.MarkFailed(ctx, evt.Ref)
		if err != nil || !changed {
			return err
		}
		s.metrics.IncTransition("payment", string(payment.Status))
		return s.emitPaymentStatus(ctx, tx, enums.EventPaymentFailed, payment, types.SystemActor(), evt.Reason)
	})
}

func (s *service) OnPaymentCanceled(ctx context.Context, evt ProcessorEvent) error {
	return s.paymentCallback(ctx, evt, func(tx *gorm.DB, contract *models.Contract, led ledger.Service) error {
		payment, delta, err := led.MarkRefunded(ctx, evt.Ref)
		if err != nil {
			return err
		}
		if delta == 0 {
			return nil
		}
		s.metrics.IncTransition("payment", string(payment.Status))
		if _, _, err := led.RecordTransaction(ctx, ledger.RecordTransactionInput{
			ContractID:  &contract.ID,
			Type:        enums.TransactionTypeRefund,
			Status:      enums.TransactionStatusCompleted,
			AmountCents: delta,
			PayeeID:     &contract.ClientID,
			ExternalRef: payment.PaymentRef,
		}); err != nil {
			return err
		}
		return s.emitPaymentStatus(ctx, tx, enums.EventPaymentRefunded, payment, types.SystemActor(), evt.Reason)
	})
}

func (s *service) OnTransferConfirmed(ctx context.Context, evt ProcessorEvent) error {
	return s.settle(ctx, evt, enums.TransactionTypeRelease, enums.TransactionStatusCompleted)
}

func (s *service) OnPayoutConfirmed(ctx context.Context, evt ProcessorEvent) error {
	return s.recordPayout(ctx, evt, enums.TransactionStatusCompleted)
}

func (s *service) OnPayoutFailed(ctx context.Context, evt ProcessorEvent) error {
	return s.recordPayout(ctx, evt, enums.TransactionStatusFailed)
}

func (s *service) OnAccountUpdated(ctx context.Context, evt ProcessorEvent) error {
	if evt.Account == nil {
		s.ignore(ctx, evt, "account update without capabilities")
		return nil
	}
	account, err := s.payees.ApplyAccountUpdate(ctx, payees.AccountUpdate{
		DestinationRef:   evt.Ref,
		DetailsSubmitted: evt.Account.DetailsSubmitted,
		ChargesEnabled:   evt.Account.ChargesEnabled,
		PayoutsEnabled:   evt.Account.PayoutsEnabled,
	})
	if err != nil {
		return err
	}
	if account == nil {
		s.ignore(ctx, evt, "account not linked to a vendor")
	}
	return nil
}

func (s *service) GetPayment(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Payment, error) {
	if _, err := s.contracts.Get(ctx, contractID, actor); err != nil {
		return nil, err
	}
	return s.ledger.GetByContract(ctx, contractID)
}

func (s *service) ListTransactions(ctx context.Context, contractID uuid.UUID, actor types.Actor) ([]models.Transaction, error) {
	if _, err := s.contracts.Get(ctx, contractID, actor); err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, contractID)
}

func (s *service) MilestoneHistory(ctx context.Context, contractID, milestoneID uuid.UUID, actor types.Actor) ([]models.MilestoneHistory, error) {
	contract, err := s.contracts.Get(ctx, contractID, actor)
	if err != nil {
		return nil, err
	}
	return s.milestones.History(ctx, contract, milestoneID)
}

// withContract serializes work on one contract: the distributed lock first,
// then the row lock inside the transaction.
func (s *service) withContract(ctx context.Context, contractID uuid.UUID, fn func(tx *gorm.DB, contract *models.Contract) error) error {
	release, err := s.locker.Acquire(ctx, contractID)
	if err != nil {
		return err
	}
	defer release()

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		contract, err := s.contracts.LoadForUpdate(ctx, tx, contractID)
		if err != nil {
			return err
		}
		return fn(tx, contract)
	})
}

// paymentCallback resolves the payment by processor ref. Unknown payments and
// contracts are logged and skipped, as are callbacks for a closed payment.
func (s *service) paymentCallback(ctx context.Context, evt ProcessorEvent, fn func(tx *gorm.DB, contract *models.Contract, led ledger.Service) error) error {
	payment, err := s.ledger.GetByRef(ctx, evt.Ref)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) || pkgerrors.Is(err, pkgerrors.CodeValidation) {
			s.ignore(ctx, evt, "unknown payment")
			return nil
		}
		return err
	}
	err = s.withContract(ctx, payment.ContractID, func(tx *gorm.DB, contract *models.Contract) error {
		led := s.ledger.WithTx(tx)
		current, err := led.GetByRef(ctx, evt.Ref)
		if err != nil {
			return err
		}
		if current.Status.IsClosed() {
			// failed and refunded are final; a late success for a retried
			// intent is acknowledged so the processor stops redelivering.
			s.metrics.ObserveWebhook(string(evt.Kind), "closed_payment")
			s.ignore(ctx, evt, "payment already closed")
			return nil
		}
		return fn(tx, contract, led)
	})
	if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		s.ignore(ctx, evt, "unknown contract")
		return nil
	}
	return err
}

func (s *service) settle(ctx context.Context, evt ProcessorEvent, txnType enums.TransactionType, status enums.TransactionStatus) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		_, _, err := s.ledger.WithTx(tx).SettleByRef(ctx, txnType, evt.Ref, status)
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			s.ignore(ctx, evt, "unknown transaction")
			return nil
		}
		return err
	})
}

// recordPayout creates the payout row on first sight and settles it when an
// earlier event left it pending.
func (s *service) recordPayout(ctx context.Context, evt ProcessorEvent, status enums.TransactionStatus) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		account, err := s.payees.WithTx(tx).FindByDestination(ctx, evt.Destination)
		if err != nil {
			return err
		}
		if account == nil {
			s.ignore(ctx, evt, "payout for unlinked account")
			return nil
		}
		led := s.ledger.WithTx(tx)
		txn, created, err := led.RecordTransaction(ctx, ledger.RecordTransactionInput{
			Type:        enums.TransactionTypePayout,
			Status:      status,
			AmountCents: evt.AmountCents,
			PayeeID:     &account.VendorID,
			ExternalRef: evt.Ref,
		})
		if err != nil {
			return err
		}
		if !created && txn.Status == enums.TransactionStatusPending {
			_, _, err = led.SettleByRef(ctx, enums.TransactionTypePayout, evt.Ref, status)
		}
		return err
	})
}

// ensureCaptured moves held funds into the platform balance once per contract.
// The fee is recognized at the same moment.
func (s *service) ensureCaptured(ctx context.Context, tx *gorm.DB, contract *models.Contract, payment *models.Payment) error {
	if payment.CapturedAt != nil {
		return nil
	}
	err := s.processor.Capture(ctx, CaptureInput{
		PaymentRef:     payment.PaymentRef,
		IdempotencyKey: "capture:" + contract.ID.String(),
	})
	s.metrics.ObserveProcessorCall("capture", err)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeCaptureFailed, err, "capture escrow payment").
			WithDetails(map[string]any{"contractId": contract.ID.String(), "paymentRef": payment.PaymentRef})
	}

	led := s.ledger.WithTx(tx)
	if err := led.MarkCaptured(ctx, payment, s.now()); err != nil {
		return err
	}
	if payment.PlatformFeeCents == 0 {
		return nil
	}
	_, _, err = led.RecordTransaction(ctx, ledger.RecordTransactionInput{
		ContractID:  &contract.ID,
		Type:        enums.TransactionTypeFee,
		Status:      enums.TransactionStatusCompleted,
		AmountCents: payment.PlatformFeeCents,
		PayerID:     &contract.ClientID,
		ExternalRef: payment.PaymentRef,
	})
	return err
}

func (s *service) checkMilestone(ctx context.Context, tx *gorm.DB, contract *models.Contract, input MilestoneAction, event enums.MilestoneEvent) (milestones.ApplyInput, error) {
	active, err := s.disputes.WithTx(tx).IsActive(ctx, contract.ID)
	if err != nil {
		return milestones.ApplyInput{}, err
	}
	apply := milestones.ApplyInput{
		Contract:      contract,
		MilestoneID:   input.MilestoneID,
		Event:         event,
		Actor:         input.Actor,
		Note:          input.Note,
		Attachments:   input.Attachments,
		DisputeActive: active,
	}
	if _, _, err := s.milestones.WithTx(tx).Check(ctx, apply); err != nil {
		return milestones.ApplyInput{}, err
	}
	return apply, nil
}

func (s *service) applyMilestone(ctx context.Context, tx *gorm.DB, contract *models.Contract, apply milestones.ApplyInput) (*MilestoneResult, error) {
	applied, err := s.milestones.WithTx(tx).Apply(ctx, apply)
	if err != nil {
		return nil, err
	}
	return &MilestoneResult{Contract: contract, Milestone: applied.Milestone, From: applied.From, To: applied.To}, nil
}

func (s *service) emitContract(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, contract *models.Contract, actor types.Actor) error {
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

func (s *service) emitMilestone(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, contract *models.Contract, result *MilestoneResult, actor types.Actor, recipient uuid.UUID, note *string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateMilestone,
		AggregateID:   result.Milestone.ID,
		Actor:         outbox.NewActorRef(actor.UserID, actor.Role),
		Data: payloads.MilestoneEvent{
			ContractID:  contract.ID,
			MilestoneID: result.Milestone.ID,
			Position:    result.Milestone.Position,
			Title:       result.Milestone.Title,
			Status:      result.To,
			RecipientID: recipient,
			Note:        note,
		},
	})
}

func (s *service) emitPaymentStatus(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, actor types.Actor, reason string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         outbox.NewActorRef(actor.UserID, actor.Role),
		Data: payloads.PaymentStatusEvent{
			ContractID:    payment.ContractID,
			PaymentRef:    payment.PaymentRef,
			Status:        payment.Status,
			RefundedCents: payment.RefundedCents,
			Reason:        reason,
		},
	})
}

func (s *service) ignore(ctx context.Context, evt ProcessorEvent, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id":   evt.EventID,
		"event_kind": evt.Kind,
		"ref":        evt.Ref,
	})
	s.logg.Warn(logCtx, msg)
}

func requireContractStatus(contract *models.Contract, action string, allowed ...enums.ContractStatus) error {
	for _, status := range allowed {
		if contract.Status == status {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "contract does not allow this action").
		WithDetails(map[string]any{"entity": "contract", "from": contract.Status, "action": action})
}

func counterparty(contract *models.Contract, actor types.Actor) uuid.UUID {
	if actor.UserID == contract.ClientID {
		return contract.VendorID
	}
	return contract.ClientID
}

func findMilestone(contract *models.Contract, milestoneID uuid.UUID) *models.Milestone {
	for i := range contract.Milestones {
		if contract.Milestones[i].ID == milestoneID {
			return &contract.Milestones[i]
		}
	}
	return nil
}
