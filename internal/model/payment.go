package model

import "time"

// PaymentStatus is the outcome a gateway reported for a transaction.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentRefused PaymentStatus = "refused"
)

// PaymentConfirmation models a row in the `payment_confirmations` ledger.
// Rows are written by the signed gateway webhook and consulted by the
// ledger verifier during reconciliation.
//
// Fields:
//
//	PaymentRef – gateway transaction reference (primary key).
//	Status     – paid or refused.
//	ReceivedAt – when the notification was recorded.
type PaymentConfirmation struct {
	PaymentRef string
	Status     PaymentStatus
	ReceivedAt time.Time
}
