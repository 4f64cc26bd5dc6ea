package stripewebhook

import (
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/escrowhub-backend/internal/escrow"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
)

// Translate maps a verified Stripe event onto the processor events the escrow
// orchestrator understands. Unhandled event types translate to nothing.
func Translate(event *stripe.Event) ([]escrow.ProcessorEvent, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentProcessing:
		// Nothing is reserved yet; amount_capturable_updated reports the hold.
		return nil, nil
	case stripe.EventTypePaymentIntentAmountCapturableUpdated:
		// Funds are held; a manual-capture intent is treated as escrowed from here on.
		return paymentIntentEvents(event, escrow.EventAuthorized, escrow.EventCaptured)
	case stripe.EventTypePaymentIntentSucceeded:
		return paymentIntentEvents(event, escrow.EventCaptured)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return paymentIntentEvents(event, escrow.EventPaymentFailed)
	case stripe.EventTypePaymentIntentCanceled:
		return paymentIntentEvents(event, escrow.EventPaymentCanceled)

	case stripe.EventTypeTransferCreated:
		var tr stripe.Transfer
		if err := decode(event, &tr); err != nil {
			return nil, err
		}
		evt := escrow.ProcessorEvent{
			Kind:        escrow.EventTransferCreated,
			EventID:     event.ID,
			Ref:         tr.ID,
			AmountCents: tr.Amount,
			Metadata:    tr.Metadata,
		}
		if tr.Destination != nil {
			evt.Destination = tr.Destination.ID
		}
		return []escrow.ProcessorEvent{evt}, nil

	case stripe.EventTypePayoutPaid, stripe.EventTypePayoutFailed:
		var po stripe.Payout
		if err := decode(event, &po); err != nil {
			return nil, err
		}
		kind := escrow.EventPayoutPaid
		if event.Type == stripe.EventTypePayoutFailed {
			kind = escrow.EventPayoutFailed
		}
		// Connect payouts are delivered on behalf of the connected account.
		return []escrow.ProcessorEvent{{
			Kind:        kind,
			EventID:     event.ID,
			Ref:         po.ID,
			AmountCents: po.Amount,
			Metadata:    po.Metadata,
			Destination: event.Account,
			Reason:      po.FailureMessage,
		}}, nil

	case stripe.EventTypeAccountUpdated:
		var acct stripe.Account
		if err := decode(event, &acct); err != nil {
			return nil, err
		}
		return []escrow.ProcessorEvent{{
			Kind:     escrow.EventAccountUpdated,
			EventID:  event.ID,
			Ref:      acct.ID,
			Metadata: acct.Metadata,
			Account: &escrow.AccountState{
				DetailsSubmitted: acct.DetailsSubmitted,
				ChargesEnabled:   acct.ChargesEnabled,
				PayoutsEnabled:   acct.PayoutsEnabled,
			},
		}}, nil

	default:
		return nil, nil
	}
}

func paymentIntentEvents(event *stripe.Event, kinds ...escrow.EventKind) ([]escrow.ProcessorEvent, error) {
	var pi stripe.PaymentIntent
	if err := decode(event, &pi); err != nil {
		return nil, err
	}
	reason := string(pi.CancellationReason)
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		reason = pi.LastPaymentError.Msg
	}
	out := make([]escrow.ProcessorEvent, 0, len(kinds))
	for _, kind := range kinds {
		out = append(out, escrow.ProcessorEvent{
			Kind:        kind,
			EventID:     event.ID,
			Ref:         pi.ID,
			AmountCents: pi.Amount,
			Metadata:    pi.Metadata,
			Reason:      reason,
		})
	}
	return out, nil
}

func decode(event *stripe.Event, target any) error {
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event object").
			WithDetails(map[string]any{"eventType": string(event.Type)})
	}
	return nil
}
