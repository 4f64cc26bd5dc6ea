package contracts

import (
	"context"
	"net/http"

	"github.com/angelmondragon/escrowhub-backend/api/middleware"
	"github.com/angelmondragon/escrowhub-backend/api/responses"
	"github.com/angelmondragon/escrowhub-backend/api/validators"
	"github.com/angelmondragon/escrowhub-backend/internal/escrow"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
)

// Fund opens the funding intent for an accepted contract and returns the
// client secret the browser confirms the payment with.
func Fund(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
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

		result, err := svc.InitiateFunding(r.Context(), contractID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, FundingDTO{
			Contract:     toContractDTO(result.Contract),
			Payment:      toPaymentDTO(result.Payment),
			ClientSecret: result.ClientSecret,
		})
	}
}

func Payment(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
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
		payment, err := svc.GetPayment(r.Context(), contractID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentDTO(payment))
	}
}

func Transactions(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
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
		txns, err := svc.ListTransactions(r.Context(), contractID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]TransactionDTO, 0, len(txns))
		for _, txn := range txns {
			out = append(out, toTransactionDTO(txn))
		}
		responses.WriteSuccess(w, out)
	}
}

func MilestoneHistory(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
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
		milestoneID, err := validators.PathUUID(r, "milestoneId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		history, err := svc.MilestoneHistory(r.Context(), contractID, milestoneID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]HistoryDTO, 0, len(history))
		for _, h := range history {
			out = append(out, toHistoryDTO(h))
		}
		responses.WriteSuccess(w, out)
	}
}

func StartMilestone(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return milestoneHandler(svc, logg, func(ctx context.Context, in escrow.MilestoneAction) (any, error) {
		res, err := svc.StartMilestone(ctx, in)
		if err != nil {
			return nil, err
		}
		return toMilestoneActionDTO(res), nil
	})
}

func SubmitMilestone(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return milestoneHandler(svc, logg, func(ctx context.Context, in escrow.MilestoneAction) (any, error) {
		res, err := svc.SubmitMilestone(ctx, in)
		if err != nil {
			return nil, err
		}
		return toMilestoneActionDTO(res), nil
	})
}

func RequestChanges(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return milestoneHandler(svc, logg, func(ctx context.Context, in escrow.MilestoneAction) (any, error) {
		res, err := svc.RequestChanges(ctx, in)
		if err != nil {
			return nil, err
		}
		return toMilestoneActionDTO(res), nil
	})
}

func ApproveMilestone(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return milestoneHandler(svc, logg, func(ctx context.Context, in escrow.MilestoneAction) (any, error) {
		res, err := svc.ApproveMilestone(ctx, in)
		if err != nil {
			return nil, err
		}
		return toMilestoneActionDTO(res), nil
	})
}

// ReleaseMilestone pays out an approved milestone to the vendor's connected account.
func ReleaseMilestone(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return milestoneHandler(svc, logg, func(ctx context.Context, in escrow.MilestoneAction) (any, error) {
		res, err := svc.ReleaseMilestone(ctx, in)
		if err != nil {
			return nil, err
		}
		return toReleaseDTO(res), nil
	})
}

// AdminRelease settles a milestone after its dispute was resolved.
func AdminRelease(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return milestoneHandler(svc, logg, func(ctx context.Context, in escrow.MilestoneAction) (any, error) {
		res, err := svc.ManualRelease(ctx, in)
		if err != nil {
			return nil, err
		}
		return toReleaseDTO(res), nil
	})
}

// AdminResume puts a milestone whose dispute went the vendor's way back to work.
func AdminResume(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return milestoneHandler(svc, logg, func(ctx context.Context, in escrow.MilestoneAction) (any, error) {
		res, err := svc.ResumeMilestone(ctx, in)
		if err != nil {
			return nil, err
		}
		return toMilestoneActionDTO(res), nil
	})
}

// AdminRefund returns whatever is still on hold to the client.
func AdminRefund(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
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
		payment, err := svc.ManualRefund(r.Context(), contractID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPaymentDTO(payment))
	}
}

type milestoneOp func(ctx context.Context, input escrow.MilestoneAction) (any, error)

func milestoneHandler(svc escrow.Service, logg *logger.Logger, op milestoneOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "escrow service unavailable"))
			return
		}
		input, err := milestoneActionFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := op(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func milestoneActionFromRequest(r *http.Request) (escrow.MilestoneAction, error) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		return escrow.MilestoneAction{}, err
	}
	contractID, err := validators.PathUUID(r, "contractId")
	if err != nil {
		return escrow.MilestoneAction{}, err
	}
	milestoneID, err := validators.PathUUID(r, "milestoneId")
	if err != nil {
		return escrow.MilestoneAction{}, err
	}
	var req milestoneActionRequest
	if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
		return escrow.MilestoneAction{}, err
	}
	return escrow.MilestoneAction{
		ContractID:  contractID,
		MilestoneID: milestoneID,
		Actor:       actor,
		Note:        req.Note,
		Attachments: req.Attachments,
	}, nil
}
