package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/escrowhub-backend/api/responses"
	stripewebhook "github.com/angelmondragon/escrowhub-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/logger"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBody = 1 << 20

const signatureHeader = "Stripe-Signature"

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// DeliveryGuard tracks which event ids have been handled.
type DeliveryGuard interface {
	Claim(ctx context.Context, eventID string) (stripewebhook.Delivery, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type signingSecretSource interface {
	SigningSecret() string
}

type receipt struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// StripeWebhook verifies processor callbacks and runs each event id through
// the escrow dispatcher once. Any non-2xx reply makes Stripe redeliver.
func StripeWebhook(svc StripeWebhookService, secrets signingSecretSource, guard DeliveryGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || secrets == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		event, err := verifiedEvent(r, secrets.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
		}

		delivery, err := guard.Claim(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event"))
			return
		}
		switch delivery {
		case stripewebhook.DeliveryDone:
			debug(ctx, logg, "stripe webhook redelivery ignored")
			responses.WriteSuccess(w, receipt{Received: true, Duplicate: true})
			return
		case stripewebhook.DeliveryInFlight:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "event is already being processed"))
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if relErr := guard.Release(ctx, event.ID); relErr != nil && logg != nil {
				logg.Error(ctx, "release webhook claim", relErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := guard.Complete(ctx, event.ID); err != nil && logg != nil {
			// The claim still expires on its own; escrow handlers tolerate a replay.
			logg.Error(ctx, "mark webhook event done", err)
		}
		responses.WriteSuccess(w, receipt{Received: true})
	}
}

func verifiedEvent(r *http.Request, secret string) (stripe.Event, error) {
	sig := r.Header.Get(signatureHeader)
	if sig == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body")
	}
	event, err := webhook.ConstructEvent(payload, sig, secret)
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature")
	}
	return event, nil
}

func debug(ctx context.Context, logg *logger.Logger, msg string) {
	if logg != nil {
		logg.Debug(ctx, msg)
	}
}
