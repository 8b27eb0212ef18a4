// Package reconcile finalizes draft capsules from payment gateway callbacks.
//
// A callback carries a payment reference; the capsule it pays for is known
// only to the pending store (the client cookie or a server correlation
// record).  Every failure is terminal and carries a diagnostic the user can
// relay to support.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/iliyamo/time-capsule/internal/storage"
)

var (
	ErrNoPaymentReference     = errors.New("no payment reference")
	ErrSessionLost            = errors.New("pending session lost")
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	ErrPaymentUnverified      = errors.New("payment not verified")
)

// Kind classifies a reconciliation failure.
type Kind int

const (
	KindNoPaymentReference Kind = iota + 1
	KindSessionLost
	KindPaymentUnverified
	KindReconciliationMismatch
	KindStorage
)

func (k Kind) sentinel() error {
	switch k {
	case KindNoPaymentReference:
		return ErrNoPaymentReference
	case KindSessionLost:
		return ErrSessionLost
	case KindPaymentUnverified:
		return ErrPaymentUnverified
	case KindReconciliationMismatch:
		return ErrReconciliationMismatch
	case KindStorage:
		return storage.ErrStorage
	}
	return errors.New("unknown reconciliation failure")
}

func (k Kind) String() string { return k.sentinel().Error() }

// Failure is returned by every failed reconciliation.
type Failure struct {
	Kind       Kind
	PaymentRef string // "unknown" when the callback had none
	CapsuleID  string // empty when the pending session was lost
	Err        error  // underlying cause, if any
}

func (f *Failure) Error() string {
	msg := f.Kind.String() + ": payment_ref=" + f.PaymentRef
	if f.CapsuleID != "" {
		msg += " capsule_id=" + f.CapsuleID
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Is matches the sentinel of the failure kind.
func (f *Failure) Is(target error) bool { return target == f.Kind.sentinel() }

func (f *Failure) Unwrap() error { return f.Err }

// Diagnostic renders the support message shown to the user.
func (f *Failure) Diagnostic() string {
	switch f.Kind {
	case KindNoPaymentReference:
		return "Payment not identified. Contact support with reference: unknown."
	case KindSessionLost:
		return fmt.Sprintf("Session expired before the payment could be matched to a capsule. Contact support with payment reference %s.", f.PaymentRef)
	case KindPaymentUnverified:
		return fmt.Sprintf("Payment %s has not been confirmed by the gateway. Contact support if you were charged.", f.PaymentRef)
	case KindReconciliationMismatch:
		return fmt.Sprintf("Could not validate capsule %s for payment %s. Contact support with both references.", f.CapsuleID, f.PaymentRef)
	default:
		return fmt.Sprintf("Error validating the capsule. Contact support with payment reference %s and capsule %s.", f.PaymentRef, orUnknown(f.CapsuleID))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
