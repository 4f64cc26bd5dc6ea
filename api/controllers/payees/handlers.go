package payees

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/api/middleware"
	"github.com/angelmondragon/escrowhub-backend/api/responses"
	"github.com/angelmondragon/escrowhub-backend/api/validators"
	internalpayees "github.com/angelmondragon/escrowhub-backend/internal/payees"
	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
)

type linkRequest struct {
	DestinationRef string `json:"destinationRef" validate:"required,max=255,connected_account"`
}

type PayoutAccountDTO struct {
	VendorID         uuid.UUID `json:"vendorId"`
	DestinationRef   string    `json:"destinationRef"`
	DetailsSubmitted bool      `json:"detailsSubmitted"`
	ChargesEnabled   bool      `json:"chargesEnabled"`
	PayoutsEnabled   bool      `json:"payoutsEnabled"`
	Verified         bool      `json:"verified"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toPayoutAccountDTO(a *models.PayoutAccount) PayoutAccountDTO {
	return PayoutAccountDTO{
		VendorID:         a.VendorID,
		DestinationRef:   a.DestinationRef,
		DetailsSubmitted: a.DetailsSubmitted,
		ChargesEnabled:   a.ChargesEnabled,
		PayoutsEnabled:   a.PayoutsEnabled,
		Verified:         a.Verified(),
		UpdatedAt:        a.UpdatedAt,
	}
}

// LinkPayoutAccount registers the vendor's Stripe connected account. Verification
// arrives later through account.updated webhooks.
func LinkPayoutAccount(svc internalpayees.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payee service unavailable"))
			return
		}
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req linkRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := svc.Link(r.Context(), actor, req.DestinationRef)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPayoutAccountDTO(account))
	}
}

func GetPayoutAccount(svc internalpayees.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payee service unavailable"))
			return
		}
		actor, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := svc.Get(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPayoutAccountDTO(account))
	}
}
