package disputes

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/api/middleware"
	"github.com/angelmondragon/escrowhub-backend/api/responses"
	"github.com/angelmondragon/escrowhub-backend/api/validators"
	internaldisputes "github.com/angelmondragon/escrowhub-backend/internal/disputes"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
)

const maxReasonLength = 2000

type openRequest struct {
	MilestoneID *string `json:"milestoneId" validate:"omitempty,uuid"`
	Reason      string  `json:"reason" validate:"required,max=2000"`
}

type resolveRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=client vendor"`
	Reason  string `json:"reason" validate:"required,max=2000"`
}

type DisputeDTO struct {
	ID               uuid.UUID  `json:"id"`
	ContractID       uuid.UUID  `json:"contractId"`
	MilestoneID      *uuid.UUID `json:"milestoneId,omitempty"`
	OpenedBy         uuid.UUID  `json:"openedBy"`
	OpenedRole       string     `json:"openedRole"`
	Reason           string     `json:"reason"`
	Status           string     `json:"status"`
	Outcome          *string    `json:"outcome,omitempty"`
	ResolutionReason *string    `json:"resolutionReason,omitempty"`
	ResolvedBy       *uuid.UUID `json:"resolvedBy,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type DisputeListDTO struct {
	Disputes   []DisputeDTO `json:"disputes"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

func toDisputeDTO(d *models.Dispute) DisputeDTO {
	dto := DisputeDTO{
		ID:               d.ID,
		ContractID:       d.ContractID,
		MilestoneID:      d.MilestoneID,
		OpenedBy:         d.OpenedBy,
		OpenedRole:       string(d.OpenedRole),
		Reason:           d.Reason,
		Status:           string(d.Status),
		ResolutionReason: d.ResolutionReason,
		ResolvedBy:       d.ResolvedBy,
		ResolvedAt:       d.ResolvedAt,
		CreatedAt:        d.CreatedAt,
	}
	if d.Outcome != nil {
		outcome := string(*d.Outcome)
		dto.Outcome = &outcome
	}
	return dto
}

// Open lets either party freeze a contract, optionally pinning the dispute to a milestone.
func Open(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispute service unavailable"))
			return
		}
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		contractID, err := validators.PathUUID(r, "contractId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req openRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := internaldisputes.OpenInput{
			ContractID: contractID,
			Actor:      actor,
			Reason:     validators.Clean(req.Reason, maxReasonLength),
		}
		if req.MilestoneID != nil {
			milestoneID, err := uuid.Parse(*req.MilestoneID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid milestoneId"))
				return
			}
			input.MilestoneID = &milestoneID
		}

		dispute, err := svc.Open(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toDisputeDTO(dispute))
	}
}

// Process marks a pending dispute as under operator review.
func Process(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispute service unavailable"))
			return
		}
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := validators.PathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dispute, err := svc.Process(r.Context(), disputeID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toDisputeDTO(dispute))
	}
}

// Resolve records the operator's outcome. Moving money afterwards is a separate admin action.
func Resolve(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispute service unavailable"))
			return
		}
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := validators.PathUUID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := enums.ParseDisputeOutcome(req.Outcome)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid outcome"))
			return
		}

		dispute, err := svc.Resolve(r.Context(), internaldisputes.ResolveInput{
			DisputeID: disputeID,
			Actor:     actor,
			Outcome:   outcome,
			Reason:    validators.Clean(req.Reason, maxReasonLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toDisputeDTO(dispute))
	}
}

// List is the operator queue, filterable by status and contract.
func List(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dispute service unavailable"))
			return
		}
		params, err := validators.Page(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filter internaldisputes.ListFilter
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseDisputeStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			filter.Status = &status
		}
		if filter.ContractID, err = validators.QueryUUID(r, "contractId"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := DisputeListDTO{Disputes: make([]DisputeDTO, 0, len(result.Disputes)), NextCursor: result.NextCursor}
		for i := range result.Disputes {
			out.Disputes = append(out.Disputes, toDisputeDTO(&result.Disputes[i]))
		}
		responses.WriteSuccess(w, out)
	}
}
