package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
)

// Dispute suspends milestone progress on a contract until an operator resolves it.
type Dispute struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ContractID       uuid.UUID             `gorm:"column:contract_id;type:uuid;not null"`
	MilestoneID      *uuid.UUID            `gorm:"column:milestone_id;type:uuid"`
	OpenedBy         uuid.UUID             `gorm:"column:opened_by;type:uuid;not null"`
	OpenedRole       enums.ActorRole       `gorm:"column:opened_role;not null"`
	Reason           string                `gorm:"column:reason;not null"`
	Status           enums.DisputeStatus   `gorm:"column:status;type:dispute_status;not null;default:'pending'"`
	Outcome          *enums.DisputeOutcome `gorm:"column:outcome;type:dispute_outcome"`
	ResolutionReason *string               `gorm:"column:resolution_reason"`
	ResolvedBy       *uuid.UUID            `gorm:"column:resolved_by;type:uuid"`
	ResolvedAt       *time.Time            `gorm:"column:resolved_at"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
