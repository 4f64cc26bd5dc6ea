package enums

import "fmt"

// PaymentStatus tracks the escrow ledger record for a contract.
type PaymentStatus string

const (
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusOnHold            PaymentStatus = "on_hold"
	PaymentStatusFunded            PaymentStatus = "funded"
	PaymentStatusPartiallyReleased PaymentStatus = "partially_released"
	PaymentStatusFullyReleased     PaymentStatus = "fully_released"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusProcessing,
	PaymentStatusOnHold,
	PaymentStatusFunded,
	PaymentStatusPartiallyReleased,
	PaymentStatusFullyReleased,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

// String implements fmt.Stringer.
func (s PaymentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PaymentStatus.
func (s PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsClosed reports whether the payment reached a terminal failure or reversal.
func (s PaymentStatus) IsClosed() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
