package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/escrowhub-backend/pkg/db/types"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
)

// Milestone is a separately priced deliverable within a contract.
type Milestone struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ContractID  uuid.UUID             `gorm:"column:contract_id;type:uuid;not null"`
	Position    int                   `gorm:"column:position;not null"`
	Title       string                `gorm:"column:title;not null"`
	Description *string               `gorm:"column:description"`
	AmountCents int64                 `gorm:"column:amount_cents;not null"`
	Status      enums.MilestoneStatus `gorm:"column:status;type:milestone_status;not null;default:'pending'"`
	StartsAt    *time.Time            `gorm:"column:starts_at"`
	EndsAt      *time.Time            `gorm:"column:ends_at"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// MilestoneHistory is an append-only audit entry for one applied milestone transition.
type MilestoneHistory struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MilestoneID uuid.UUID             `gorm:"column:milestone_id;type:uuid;not null"`
	ContractID  uuid.UUID             `gorm:"column:contract_id;type:uuid;not null"`
	FromStatus  enums.MilestoneStatus `gorm:"column:from_status;type:milestone_status;not null"`
	ToStatus    enums.MilestoneStatus `gorm:"column:to_status;type:milestone_status;not null"`
	Event       enums.MilestoneEvent  `gorm:"column:event;not null"`
	ActorID     uuid.UUID             `gorm:"column:actor_id;type:uuid;not null"`
	ActorRole   enums.ActorRole       `gorm:"column:actor_role;not null"`
	Note        *string               `gorm:"column:note"`
	Attachments dbtypes.StringList    `gorm:"column:attachments;type:jsonb;not null;default:'[]'"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (MilestoneHistory) TableName() string {
	return "milestone_history"
}
