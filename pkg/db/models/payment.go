package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
)

// Payment is the escrow ledger record of a contract (one per contract).
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ContractID       uuid.UUID           `gorm:"column:contract_id;type:uuid;not null;uniqueIndex"`
	PaymentRef       string              `gorm:"column:payment_ref;not null;uniqueIndex"`
	TotalCents       int64               `gorm:"column:total_cents;not null"`
	PlatformFeeCents int64               `gorm:"column:platform_fee_cents;not null"`
	EscrowCents      int64               `gorm:"column:escrow_cents;not null"`
	OnHoldCents      int64               `gorm:"column:on_hold_cents;not null;default:0"`
	ReleasedCents    int64               `gorm:"column:released_cents;not null;default:0"`
	RefundedCents    int64               `gorm:"column:refunded_cents;not null;default:0"`
	Status           enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'processing'"`
	CapturedAt       *time.Time          `gorm:"column:captured_at"`
	Version          int                 `gorm:"column:version;not null;default:1"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
