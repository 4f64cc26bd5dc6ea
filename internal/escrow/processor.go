package escrow

import "context"

// Processor is the payment processor surface. Only this package calls it.
type Processor interface {
	CreateFundingIntent(ctx context.Context, input FundingIntentInput) (*FundingIntent, error)
	Capture(ctx context.Context, input CaptureInput) error
	Transfer(ctx context.Context, input TransferInput) (*TransferResult, error)
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)
}

type FundingIntentInput struct {
	AmountCents    int64
	TransferGroup  string
	Metadata       map[string]string
	IdempotencyKey string
}

type FundingIntent struct {
	Ref          string
	ClientSecret string
}

type CaptureInput struct {
	PaymentRef     string
	IdempotencyKey string
}

type TransferInput struct {
	Destination    string
	AmountCents    int64
	TransferGroup  string
	Metadata       map[string]string
	IdempotencyKey string
}

type TransferResult struct {
	Ref string
}

// RefundInput refunds a captured payment, or cancels the intent when the
// funds were only authorized.
type RefundInput struct {
	PaymentRef     string
	AmountCents    int64
	Captured       bool
	Metadata       map[string]string
	IdempotencyKey string
}

type RefundResult struct {
	Ref string
}
