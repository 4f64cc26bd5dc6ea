package escrow

// EventKind is the processor-neutral name of a callback the orchestrator handles.
type EventKind string

const (
	EventAuthorized      EventKind = "payment.authorized"
	EventCaptured        EventKind = "payment.captured"
	EventPaymentFailed   EventKind = "payment.failed"
	EventPaymentCanceled EventKind = "payment.canceled"
	EventTransferCreated EventKind = "transfer.created"
	EventPayoutPaid      EventKind = "payout.paid"
	EventPayoutFailed    EventKind = "payout.failed"
	EventAccountUpdated  EventKind = "account.updated"
)

// ProcessorEvent is a verified processor callback translated at the webhook edge.
type ProcessorEvent struct {
	Kind    EventKind
	EventID string
	// Ref is the intent, transfer, payout or account id the event is about.
	Ref         string
	AmountCents int64
	Metadata    map[string]string
	// Destination is the connected account a payout or transfer belongs to.
	Destination string
	Account     *AccountState
	Reason      string
}

type AccountState struct {
	DetailsSubmitted bool
	ChargesEnabled   bool
	PayoutsEnabled   bool
}
