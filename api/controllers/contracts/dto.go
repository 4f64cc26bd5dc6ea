package contracts

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/internal/escrow"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
)

type milestoneRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=4000"`
	AmountCents int64      `json:"amountCents" validate:"cents"`
	StartsAt    *time.Time `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt"`
}

type createContractRequest struct {
	VendorID     string             `json:"vendorId" validate:"required,uuid"`
	Title        string             `json:"title" validate:"required,max=200"`
	Description  *string            `json:"description" validate:"omitempty,max=4000"`
	ContractType string             `json:"contractType" validate:"required,oneof=services products"`
	BudgetCents  int64              `json:"budgetCents" validate:"cents"`
	Milestones   []milestoneRequest `json:"milestones" validate:"required,min=1,dive"`
	Send         bool               `json:"send"`
}

type milestoneActionRequest struct {
	Note        *string  `json:"note" validate:"omitempty,max=4000"`
	Attachments []string `json:"attachments" validate:"omitempty,max=20,dive,required,max=2048"`
}

type MilestoneDTO struct {
	ID          uuid.UUID  `json:"id"`
	Position    int        `json:"position"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	AmountCents int64      `json:"amountCents"`
	Status      string     `json:"status"`
	StartsAt    *time.Time `json:"startsAt,omitempty"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type ContractDTO struct {
	ID           uuid.UUID      `json:"id"`
	ExternalID   string         `json:"externalId"`
	ClientID     uuid.UUID      `json:"clientId"`
	VendorID     uuid.UUID      `json:"vendorId"`
	Title        string         `json:"title"`
	Description  *string        `json:"description,omitempty"`
	ContractType string         `json:"contractType"`
	BudgetCents  int64          `json:"budgetCents"`
	Status       string         `json:"status"`
	Substatus    *string        `json:"substatus,omitempty"`
	Milestones   []MilestoneDTO `json:"milestones,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type ContractListDTO struct {
	Contracts  []ContractDTO `json:"contracts"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

type PaymentDTO struct {
	ContractID       uuid.UUID  `json:"contractId"`
	PaymentRef       string     `json:"paymentRef"`
	Status           string     `json:"status"`
	TotalCents       int64      `json:"totalCents"`
	PlatformFeeCents int64      `json:"platformFeeCents"`
	EscrowCents      int64      `json:"escrowCents"`
	OnHoldCents      int64      `json:"onHoldCents"`
	ReleasedCents    int64      `json:"releasedCents"`
	RefundedCents    int64      `json:"refundedCents"`
	CapturedAt       *time.Time `json:"capturedAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type TransactionDTO struct {
	ID          uuid.UUID  `json:"id"`
	MilestoneID *uuid.UUID `json:"milestoneId,omitempty"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	AmountCents int64      `json:"amountCents"`
	PayerID     *uuid.UUID `json:"payerId,omitempty"`
	PayeeID     *uuid.UUID `json:"payeeId,omitempty"`
	ExternalRef *string    `json:"externalRef,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
}

type HistoryDTO struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	Event       string    `json:"event"`
	ActorID     uuid.UUID `json:"actorId"`
	ActorRole   string    `json:"actorRole"`
	Note        *string   `json:"note,omitempty"`
	Attachments []string  `json:"attachments"`
	At          time.Time `json:"at"`
}

type FundingDTO struct {
	Contract     ContractDTO `json:"contract"`
	Payment      PaymentDTO  `json:"payment"`
	ClientSecret string      `json:"clientSecret"`
}

type MilestoneActionDTO struct {
	ContractStatus string       `json:"contractStatus"`
	Milestone      MilestoneDTO `json:"milestone"`
	From           string       `json:"from"`
	To             string       `json:"to"`
}

type ReleaseDTO struct {
	MilestoneActionDTO
	Payment     PaymentDTO      `json:"payment"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
}

func toMilestoneDTO(m models.Milestone) MilestoneDTO {
	return MilestoneDTO{
		ID:          m.ID,
		Position:    m.Position,
		Title:       m.Title,
		Description: m.Description,
		AmountCents: m.AmountCents,
		Status:      string(m.Status),
		StartsAt:    m.StartsAt,
		EndsAt:      m.EndsAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toContractDTO(c *models.Contract) ContractDTO {
	dto := ContractDTO{
		ID:           c.ID,
		ExternalID:   c.ExternalID,
		ClientID:     c.ClientID,
		VendorID:     c.VendorID,
		Title:        c.Title,
		Description:  c.Description,
		ContractType: string(c.ContractType),
		BudgetCents:  c.BudgetCents,
		Status:       string(c.Status),
		Substatus:    c.Substatus,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	for _, m := range c.Milestones {
		dto.Milestones = append(dto.Milestones, toMilestoneDTO(m))
	}
	return dto
}

func toPaymentDTO(p *models.Payment) PaymentDTO {
	return PaymentDTO{
		ContractID:       p.ContractID,
		PaymentRef:       p.PaymentRef,
		Status:           string(p.Status),
		TotalCents:       p.TotalCents,
		PlatformFeeCents: p.PlatformFeeCents,
		EscrowCents:      p.EscrowCents,
		OnHoldCents:      p.OnHoldCents,
		ReleasedCents:    p.ReleasedCents,
		RefundedCents:    p.RefundedCents,
		CapturedAt:       p.CapturedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toTransactionDTO(t models.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          t.ID,
		MilestoneID: t.MilestoneID,
		Type:        string(t.Type),
		Status:      string(t.Status),
		AmountCents: t.AmountCents,
		PayerID:     t.PayerID,
		PayeeID:     t.PayeeID,
		ExternalRef: t.ExternalRef,
		CreatedAt:   t.CreatedAt,
		SettledAt:   t.SettledAt,
	}
}

func toHistoryDTO(h models.MilestoneHistory) HistoryDTO {
	attachments := []string(h.Attachments)
	if attachments == nil {
		attachments = []string{}
	}
	return HistoryDTO{
		From:        string(h.FromStatus),
		To:          string(h.ToStatus),
		Event:       string(h.Event),
		ActorID:     h.ActorID,
		ActorRole:   string(h.ActorRole),
		Note:        h.Note,
		Attachments: attachments,
		At:          h.CreatedAt,
	}
}

func toMilestoneActionDTO(res *escrow.MilestoneResult) MilestoneActionDTO {
	dto := MilestoneActionDTO{From: string(res.From), To: string(res.To)}
	if res.Contract != nil {
		dto.ContractStatus = string(res.Contract.Status)
	}
	if res.Milestone != nil {
		dto.Milestone = toMilestoneDTO(*res.Milestone)
	}
	return dto
}

func toReleaseDTO(res *escrow.ReleaseResult) ReleaseDTO {
	dto := ReleaseDTO{MilestoneActionDTO: toMilestoneActionDTO(&res.MilestoneResult)}
	if res.Payment != nil {
		dto.Payment = toPaymentDTO(res.Payment)
	}
	if res.Transaction != nil {
		txn := toTransactionDTO(*res.Transaction)
		dto.Transaction = &txn
	}
	return dto
}
