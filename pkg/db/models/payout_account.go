package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutAccount is the vendor's connected processor account and its verification state.
type PayoutAccount struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID         uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex"`
	DestinationRef   string    `gorm:"column:destination_ref;not null;uniqueIndex"`
	DetailsSubmitted bool      `gorm:"column:details_submitted;not null;default:false"`
	ChargesEnabled   bool      `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled   bool      `gorm:"column:payouts_enabled;not null;default:false"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Verified reports whether releases may be transferred to this account.
func (a PayoutAccount) Verified() bool {
	return a.DetailsSubmitted && a.PayoutsEnabled
}
