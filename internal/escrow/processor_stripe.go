package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"

	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/escrowhub-backend/pkg/stripe"
)

// stripeAPI is the subset of stripe-go resource calls the processor makes.
type stripeAPI interface {
	NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	CapturePaymentIntent(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	NewTransfer(params *stripe.TransferParams) (*stripe.Transfer, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeResources struct{}

func (stripeResources) NewPaymentIntent(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return paymentintent.New(params)
}

func (stripeResources) CapturePaymentIntent(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Capture(id, params)
}

func (stripeResources) CancelPaymentIntent(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	return paymentintent.Cancel(id, params)
}

func (stripeResources) NewTransfer(params *stripe.TransferParams) (*stripe.Transfer, error) {
	return transfer.New(params)
}

func (stripeResources) NewRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return refund.New(params)
}

type currencySource interface {
	Currency() stripe.Currency
}

// StripeProcessor holds escrow funds as manual-capture payment intents and pays
// vendors with transfers to their connected accounts.
type StripeProcessor struct {
	api      stripeAPI
	currency stripe.Currency
}

// NewStripeProcessor expects client to have installed the API key already.
func NewStripeProcessor(client *pkgstripe.Client) (*StripeProcessor, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return newStripeProcessor(stripeResources{}, client), nil
}

func newStripeProcessor(api stripeAPI, cur currencySource) *StripeProcessor {
	return &StripeProcessor{api: api, currency: cur.Currency()}
}

func (p *StripeProcessor) CreateFundingIntent(ctx context.Context, input FundingIntentInput) (*FundingIntent, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "funding amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(input.AmountCents),
		Currency:      stripe.String(string(p.currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if input.TransferGroup != "" {
		params.TransferGroup = stripe.String(input.TransferGroup)
	}
	prepare(ctx, &params.Params, input.Metadata, input.IdempotencyKey)

	intent, err := p.api.NewPaymentIntent(params)
	if err != nil {
		return nil, processorError(err, "create funding intent")
	}
	return &FundingIntent{Ref: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (p *StripeProcessor) Capture(ctx context.Context, input CaptureInput) error {
	if strings.TrimSpace(input.PaymentRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment ref required")
	}
	params := &stripe.PaymentIntentCaptureParams{}
	prepare(ctx, &params.Params, nil, input.IdempotencyKey)
	if _, err := p.api.CapturePaymentIntent(input.PaymentRef, params); err != nil {
		return processorError(err, "capture payment intent")
	}
	return nil
}

func (p *StripeProcessor) Transfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	if strings.TrimSpace(input.Destination) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer destination required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(input.AmountCents),
		Currency:    stripe.String(string(p.currency)),
		Destination: stripe.String(input.Destination),
	}
	if input.TransferGroup != "" {
		params.TransferGroup = stripe.String(input.TransferGroup)
	}
	prepare(ctx, &params.Params, input.Metadata, input.IdempotencyKey)

	tr, err := p.api.NewTransfer(params)
	if err != nil {
		return nil, processorError(err, "create transfer")
	}
	return &TransferResult{Ref: tr.ID}, nil
}

// Refund returns the intent id when the authorization is cancelled and the
// refund id otherwise.
func (p *StripeProcessor) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if strings.TrimSpace(input.PaymentRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment ref required")
	}
	if !input.Captured {
		params := &stripe.PaymentIntentCancelParams{
			CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
		}
		prepare(ctx, &params.Params, nil, input.IdempotencyKey)
		intent, err := p.api.CancelPaymentIntent(input.PaymentRef, params)
		if err != nil {
			return nil, processorError(err, "cancel payment intent")
		}
		return &RefundResult{Ref: intent.ID}, nil
	}

	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(input.PaymentRef),
		Amount:        stripe.Int64(input.AmountCents),
	}
	prepare(ctx, &params.Params, input.Metadata, input.IdempotencyKey)
	rf, err := p.api.NewRefund(params)
	if err != nil {
		return nil, processorError(err, "create refund")
	}
	return &RefundResult{Ref: rf.ID}, nil
}

func prepare(ctx context.Context, params *stripe.Params, metadata map[string]string, idempotencyKey string) {
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
}

func processorError(err error, action string) error {
	details := map[string]any{"action": action}
	if stripeErr, ok := err.(*stripe.Error); ok {
		details["type"] = stripeErr.Type
		details["code"] = stripeErr.Code
		details["requestId"] = stripeErr.RequestID
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action).WithDetails(details)
}
