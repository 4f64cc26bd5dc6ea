package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
)

// ContractEvent covers contract lifecycle notifications (assigned, accepted, funding, completion).
type ContractEvent struct {
	ContractID uuid.UUID            `json:"contract_id"`
	ExternalID string               `json:"external_id"`
	ClientID   uuid.UUID            `json:"client_id"`
	VendorID   uuid.UUID            `json:"vendor_id"`
	Status     enums.ContractStatus `json:"status"`
}

// MilestoneEvent notifies the counterparty of a milestone transition.
type MilestoneEvent struct {
	ContractID  uuid.UUID             `json:"contract_id"`
	MilestoneID uuid.UUID             `json:"milestone_id"`
	Position    int                   `json:"position"`
	Title       string                `json:"title"`
	Status      enums.MilestoneStatus `json:"status"`
	RecipientID uuid.UUID             `json:"recipient_id"`
	Note        *string               `json:"note,omitempty"`
}

// PaymentReleasedEvent is emitted when a milestone amount leaves escrow.
type PaymentReleasedEvent struct {
	ContractID    uuid.UUID           `json:"contract_id"`
	MilestoneID   uuid.UUID           `json:"milestone_id"`
	VendorID      uuid.UUID           `json:"vendor_id"`
	AmountCents   int64               `json:"amount_cents"`
	ReleasedCents int64               `json:"released_cents"`
	OnHoldCents   int64               `json:"on_hold_cents"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	TransferRef   string              `json:"transfer_ref"`
}

// PaymentStatusEvent is emitted for failed or refunded escrow payments.
type PaymentStatusEvent struct {
	ContractID    uuid.UUID           `json:"contract_id"`
	PaymentRef    string              `json:"payment_ref"`
	Status        enums.PaymentStatus `json:"status"`
	RefundedCents int64               `json:"refunded_cents"`
	Reason        string              `json:"reason,omitempty"`
}

// DisputeEvent is emitted when a dispute opens or resolves.
type DisputeEvent struct {
	DisputeID   uuid.UUID             `json:"dispute_id"`
	ContractID  uuid.UUID             `json:"contract_id"`
	MilestoneID *uuid.UUID            `json:"milestone_id,omitempty"`
	Status      enums.DisputeStatus   `json:"status"`
	OpenedRole  enums.ActorRole       `json:"opened_role"`
	Reason      string                `json:"reason"`
	Outcome     *enums.DisputeOutcome `json:"outcome,omitempty"`
}
