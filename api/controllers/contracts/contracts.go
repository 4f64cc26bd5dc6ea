package contracts

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/api/middleware"
	"github.com/angelmondragon/escrowhub-backend/api/responses"
	"github.com/angelmondragon/escrowhub-backend/api/validators"
	internalcontracts "github.com/angelmondragon/escrowhub-backend/internal/contracts"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
	"github.com/angelmondragon/escrowhub-backend/pkg/types"
)

// Create stores a draft contract for the calling client, optionally sending it right away.
func Create(svc internalcontracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contract service unavailable"))
			return
		}
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createContractRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		vendorID, err := uuid.Parse(req.VendorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid vendorId"))
			return
		}
		contractType, err := enums.ParseContractType(req.ContractType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid contractType"))
			return
		}

		input := internalcontracts.CreateInput{
			Actor:        actor,
			VendorID:     vendorID,
			Title:        validators.Clean(req.Title, 200),
			Description:  req.Description,
			ContractType: contractType,
			BudgetCents:  req.BudgetCents,
			Send:         req.Send,
		}
		for _, m := range req.Milestones {
			input.Milestones = append(input.Milestones, internalcontracts.MilestoneInput{
				Title:       validators.Clean(m.Title, 200),
				Description: m.Description,
				AmountCents: m.AmountCents,
				StartsAt:    m.StartsAt,
				EndsAt:      m.EndsAt,
			})
		}

		contract, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toContractDTO(contract))
	}
}

// List pages through the caller's contracts. role narrows to the side the caller is on.
func List(svc internalcontracts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contract service unavailable"))
			return
		}
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := validators.Page(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalcontracts.ListInput{Page: page}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseContractStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			input.Status = &status
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" {
			role, err := enums.ParseActorRole(raw)
			if err != nil || (role != enums.ActorRoleClient && role != enums.ActorRoleVendor) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "role filter must be client or vendor"))
				return
			}
			input.Role = &role
		}

		result, err := svc.List(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := ContractListDTO{Contracts: make([]ContractDTO, 0, len(result.Contracts)), NextCursor: result.NextCursor}
		for i := range result.Contracts {
			out.Contracts = append(out.Contracts, toContractDTO(&result.Contracts[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func Detail(svc internalcontracts.Service, logg *logger.Logger) http.HandlerFunc {
	return contractHandler(svc, logg, func(ctx context.Context, id uuid.UUID, actor types.Actor) (*models.Contract, error) {
		return svc.Get(ctx, id, actor)
	})
}

// Send moves a draft to the vendor for acceptance.
func Send(svc internalcontracts.Service, logg *logger.Logger) http.HandlerFunc {
	return contractHandler(svc, logg, func(ctx context.Context, id uuid.UUID, actor types.Actor) (*models.Contract, error) {
		return svc.Send(ctx, id, actor)
	})
}

func Accept(svc internalcontracts.Service, logg *logger.Logger) http.HandlerFunc {
	return contractHandler(svc, logg, func(ctx context.Context, id uuid.UUID, actor types.Actor) (*models.Contract, error) {
		return svc.Accept(ctx, id, actor)
	})
}

func Reject(svc internalcontracts.Service, logg *logger.Logger) http.HandlerFunc {
	return contractHandler(svc, logg, func(ctx context.Context, id uuid.UUID, actor types.Actor) (*models.Contract, error) {
		return svc.Reject(ctx, id, actor)
	})
}

func Cancel(svc internalcontracts.Service, logg *logger.Logger) http.HandlerFunc {
	return contractHandler(svc, logg, func(ctx context.Context, id uuid.UUID, actor types.Actor) (*models.Contract, error) {
		return svc.Cancel(ctx, id, actor)
	})
}

type contractOp func(ctx context.Context, contractID uuid.UUID, actor types.Actor) (*models.Contract, error)

func contractHandler(svc internalcontracts.Service, logg *logger.Logger, op contractOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "contract service unavailable"))
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
		contract, err := op(r.Context(), contractID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toContractDTO(contract))
	}
}
