package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
)

// Transaction audits one money movement. Amounts and parties never change; only a
// pending status is reconciled once by processor callbacks. Payouts are per vendor
// account and carry no contract.
type Transaction struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ContractID  *uuid.UUID              `gorm:"column:contract_id;type:uuid"`
	MilestoneID *uuid.UUID              `gorm:"column:milestone_id;type:uuid"`
	Type        enums.TransactionType   `gorm:"column:type;type:transaction_type;not null"`
	Status      enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null"`
	AmountCents int64                   `gorm:"column:amount_cents;not null"`
	PayerID     *uuid.UUID              `gorm:"column:payer_id;type:uuid"`
	PayeeID     *uuid.UUID              `gorm:"column:payee_id;type:uuid"`
	ExternalRef *string                 `gorm:"column:external_ref"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	SettledAt   *time.Time              `gorm:"column:settled_at"`
}
