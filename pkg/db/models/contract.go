package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
)

// Contract is a milestone-based agreement between a client (payer) and a vendor (payee).
type Contract struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ExternalID   string               `gorm:"column:external_id;not null;uniqueIndex"`
	ClientID     uuid.UUID            `gorm:"column:client_id;type:uuid;not null"`
	VendorID     uuid.UUID            `gorm:"column:vendor_id;type:uuid;not null"`
	Title        string               `gorm:"column:title;not null"`
	Description  *string              `gorm:"column:description"`
	BudgetCents  int64                `gorm:"column:budget_cents;not null"`
	ContractType enums.ContractType   `gorm:"column:contract_type;type:contract_type;not null"`
	Status       enums.ContractStatus `gorm:"column:status;type:contract_status;not null;default:'draft'"`
	Substatus    *string              `gorm:"column:substatus"`
	Version      int                  `gorm:"column:version;not null;default:1"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
	Milestones   []Milestone          `gorm:"foreignKey:ContractID;references:ID"`
}

// IsParty reports whether userID is the client or the vendor of the contract.
func (c Contract) IsParty(userID uuid.UUID) bool {
	return c.ClientID == userID || c.VendorID == userID
}

// RoleOf returns the party role userID holds on the contract.
func (c Contract) RoleOf(userID uuid.UUID) (enums.ActorRole, bool) {
	switch userID {
	case c.ClientID:
		return enums.ActorRoleClient, true
	case c.VendorID:
		return enums.ActorRoleVendor, true
	default:
		return "", false
	}
}
