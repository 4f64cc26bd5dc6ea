package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

func TestDumpNil(t *testing.T) {
	assert.Equal(t, ErrorDump{}, Dump(nil))
}

func TestDumpPostgresError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payout_accounts_vendor", TableName: "payout_accounts", Message: "duplicate key"}
	err := Wrap(CodeConflict, fmt.Errorf("insert: %w", pgErr), "link payout account")

	d := Dump(err)
	assert.Equal(t, CodeConflict, d.Code)
	assert.Equal(t, "23505", d.PGCode)
	assert.Equal(t, "ux_payout_accounts_vendor", d.PGConstraint)
	assert.Equal(t, "payout_accounts", d.PGTable)
	require.Len(t, d.Chain, 3)
	assert.Empty(t, d.StripeCode)
}

func TestDumpStripeError(t *testing.T) {
	stripeErr := &stripe.Error{
		Type:        stripe.ErrorTypeCard,
		Code:        stripe.ErrorCodeCardDeclined,
		DeclineCode: stripe.DeclineCodeInsufficientFunds,
		RequestID:   "req_123",
		Msg:         "Your card has insufficient funds.",
	}
	err := Wrap(CodeDependency, stripeErr, "capture payment intent")

	d := Dump(err)
	assert.Equal(t, CodeDependency, d.Code)
	assert.Equal(t, "card_error", d.StripeType)
	assert.Equal(t, "card_declined", d.StripeCode)
	assert.Equal(t, "insufficient_funds", d.StripeDeclineCode)
	assert.Equal(t, "req_123", d.StripeRequestID)
	assert.Empty(t, d.PGCode)
}
