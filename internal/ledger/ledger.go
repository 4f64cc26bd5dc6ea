package ledger

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
)

// The functions in this file are the escrow arithmetic. Each one validates first and
// mutates the payment only when it returns a nil error.

// NewPayment builds the processing ledger row for a freshly created funding intent.
func NewPayment(contractID uuid.UUID, escrowCents, feeCents int64, paymentRef string) (*models.Payment, error) {
	if contractID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contract id is required")
	}
	if escrowCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "escrow amount must be positive")
	}
	if feeCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "platform fee cannot be negative")
	}
	ref := strings.TrimSpace(paymentRef)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	return &models.Payment{
		ID:               uuid.New(),
		ContractID:       contractID,
		PaymentRef:       ref,
		TotalCents:       escrowCents + feeCents,
		PlatformFeeCents: feeCents,
		EscrowCents:      escrowCents,
		Status:           enums.PaymentStatusProcessing,
		Version:          1,
	}, nil
}

// Authorize places the whole escrow on hold. It reports false when the payment was
// already authorized.
func Authorize(p *models.Payment) (bool, error) {
	switch p.Status {
	case enums.PaymentStatusProcessing:
		p.OnHoldCents = p.EscrowCents
		p.Status = enums.PaymentStatusOnHold
		return true, nil
	case enums.PaymentStatusOnHold,
		enums.PaymentStatusFunded,
		enums.PaymentStatusPartiallyReleased,
		enums.PaymentStatusFullyReleased:
		return false, nil
	default:
		return false, invalidTransition(p, enums.PaymentStatusOnHold)
	}
}

// Fund marks the held escrow as funded, authorizing first when the capture
// confirmation arrives before the authorization.
func Fund(p *models.Payment) (bool, error) {
	switch p.Status {
	case enums.PaymentStatusProcessing:
		if _, err := Authorize(p); err != nil {
			return false, err
		}
		p.Status = enums.PaymentStatusFunded
		return true, nil
	case enums.PaymentStatusOnHold:
		p.Status = enums.PaymentStatusFunded
		return true, nil
	case enums.PaymentStatusFunded,
		enums.PaymentStatusPartiallyReleased,
		enums.PaymentStatusFullyReleased:
		return false, nil
	default:
		return false, invalidTransition(p, enums.PaymentStatusFunded)
	}
}

// CheckRelease validates a release of amount without touching the payment.
func CheckRelease(p *models.Payment, amount int64) error {
	switch p.Status {
	case enums.PaymentStatusFunded,
		enums.PaymentStatusPartiallyReleased,
		enums.PaymentStatusFullyReleased:
	default:
		return invalidTransition(p, enums.PaymentStatusPartiallyReleased)
	}
	if amount <= 0 || p.OnHoldCents < amount || p.ReleasedCents+amount > p.EscrowCents {
		return pkgerrors.New(pkgerrors.CodeInsufficientEscrow, "release exceeds escrow on hold").
			WithDetails(map[string]any{
				"onHold":    p.OnHoldCents,
				"released":  p.ReleasedCents,
				"escrow":    p.EscrowCents,
				"requested": amount,
			})
	}
	return nil
}

// Release moves amount from on-hold to released and recomputes the status.
func Release(p *models.Payment, amount int64) error {
	if err := CheckRelease(p, amount); err != nil {
		return err
	}
	p.OnHoldCents -= amount
	p.ReleasedCents += amount
	if p.OnHoldCents == 0 && p.ReleasedCents == p.EscrowCents {
		p.Status = enums.PaymentStatusFullyReleased
	} else {
		p.Status = enums.PaymentStatusPartiallyReleased
	}
	return nil
}

// Fail closes a payment whose funding never completed.
func Fail(p *models.Payment) (bool, error) {
	switch p.Status {
	case enums.PaymentStatusProcessing, enums.PaymentStatusOnHold:
		p.OnHoldCents = 0
		p.Status = enums.PaymentStatusFailed
		return true, nil
	case enums.PaymentStatusFailed:
		return false, nil
	default:
		return false, invalidTransition(p, enums.PaymentStatusFailed)
	}
}

// Refund returns whatever is still on hold to the payer and closes the payment.
// The refunded delta is returned; zero means the refund was already applied.
func Refund(p *models.Payment) (int64, error) {
	switch p.Status {
	case enums.PaymentStatusProcessing,
		enums.PaymentStatusOnHold,
		enums.PaymentStatusFunded,
		enums.PaymentStatusPartiallyReleased:
		delta := p.OnHoldCents
		p.RefundedCents += delta
		p.OnHoldCents = 0
		p.Status = enums.PaymentStatusRefunded
		return delta, nil
	case enums.PaymentStatusRefunded:
		return 0, nil
	default:
		return 0, invalidTransition(p, enums.PaymentStatusRefunded)
	}
}

// CheckInvariants verifies the conservation rules of a payment.
func CheckInvariants(p *models.Payment) error {
	violation := func(msg string) error {
		return pkgerrors.New(pkgerrors.CodeInternal, "ledger invariant violated: "+msg).
			WithDetails(map[string]any{
				"paymentId": p.ID.String(),
				"status":    p.Status,
				"escrow":    p.EscrowCents,
				"onHold":    p.OnHoldCents,
				"released":  p.ReleasedCents,
				"refunded":  p.RefundedCents,
			})
	}
	if p.OnHoldCents < 0 || p.ReleasedCents < 0 || p.RefundedCents < 0 {
		return violation("negative amount")
	}
	if p.OnHoldCents+p.ReleasedCents > p.EscrowCents {
		return violation("on hold plus released exceeds escrow")
	}
	switch p.Status {
	case enums.PaymentStatusProcessing, enums.PaymentStatusFailed:
		if p.OnHoldCents != 0 || p.ReleasedCents != 0 {
			return violation("unauthorized payment holds funds")
		}
		return nil
	case enums.PaymentStatusRefunded:
		if p.OnHoldCents != 0 {
			return violation("refunded payment holds funds")
		}
		return nil
	}
	if p.OnHoldCents+p.ReleasedCents != p.EscrowCents-p.RefundedCents {
		return violation("escrow not conserved")
	}
	fully := p.OnHoldCents == 0 && p.ReleasedCents == p.EscrowCents
	if fully != (p.Status == enums.PaymentStatusFullyReleased) {
		return violation("fully released status mismatch")
	}
	return nil
}

func invalidTransition(p *models.Payment, to enums.PaymentStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "payment transition not allowed").
		WithDetails(map[string]any{
			"entity": "payment",
			"from":   p.Status,
			"to":     to,
		})
}
