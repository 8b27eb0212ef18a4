package reconcile

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/time-capsule/internal/model"
)

// Verdict is a verifier's answer for a payment reference.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictPaid
	VerdictUnpaid
)

func (v Verdict) String() string {
	switch v {
	case VerdictPaid:
		return "paid"
	case VerdictUnpaid:
		return "unpaid"
	}
	return "unknown"
}

// Verifier decides whether a payment reference proves payment.
type Verifier interface {
	Verify(ctx context.Context, ref string) (Verdict, error)
}

// TrustingVerifier accepts any non-empty reference.  The callback redirect
// is client-asserted, so with this verifier any plausible reference
// finalizes the capsule.
type TrustingVerifier struct{}

func (TrustingVerifier) Verify(_ context.Context, ref string) (Verdict, error) {
	if ref == "" {
		return VerdictUnknown, nil
	}
	return VerdictPaid, nil
}

// Ledger is the read side of the payment confirmation ledger.
type Ledger interface {
	Lookup(ctx context.Context, ref string) (model.PaymentConfirmation, error)
}

// LedgerVerifier only accepts references the gateway confirmed through the
// signed webhook.
type LedgerVerifier struct {
	Ledger Ledger
}

func (v LedgerVerifier) Verify(ctx context.Context, ref string) (Verdict, error) {
	pc, err := v.Ledger.Lookup(ctx, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return VerdictUnknown, nil
	}
	if err != nil {
		return VerdictUnknown, err
	}
	if pc.Status == model.PaymentPaid {
		return VerdictPaid, nil
	}
	return VerdictUnpaid, nil
}
