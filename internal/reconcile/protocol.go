package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/iliyamo/time-capsule/internal/lifecycle"
	"github.com/iliyamo/time-capsule/internal/model"
	"github.com/iliyamo/time-capsule/internal/repository"
)

// referenceParams are the callback query keys carrying the payment
// reference, in priority order.
var referenceParams = []string{"ref", "id", "transaction_id"}

// PaymentReference extracts the payment reference from a callback query.
func PaymentReference(q url.Values) string {
	for _, k := range referenceParams {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// PendingStore holds the correlation token of one checkout flow.  Pending
// returns "" when no token is held.  Clear is called once, after a
// successful finalize.
type PendingStore interface {
	Pending(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// StaticPending is a PendingStore for callers that already know the capsule,
// such as an operator resolving a support ticket.
type StaticPending string

func (s StaticPending) Pending(context.Context) (string, error) { return string(s), nil }
func (StaticPending) Clear(context.Context) error               { return nil }

// Finalizer is the repository operation that completes a draft.  applied is
// false when the call replayed a finalize that already happened.
type Finalizer interface {
	UpdateProvisioningToken(ctx context.Context, id, newToken string) (c model.Capsule, applied bool, err error)
}

// Notifier is told about capsules finalized by reconciliation.
type Notifier interface {
	CapsuleFinalized(ctx context.Context, c model.Capsule) error
}

// CorrelationStore resolves server-issued reclaim keys.  Release drops the
// record of a capsule once it is finalized.
type CorrelationStore interface {
	Peek(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Release(ctx context.Context, capsuleID string) error
}

// Outcome is a successful reconciliation.  Replayed is set when the capsule
// had already been finalized with the same reference.
type Outcome struct {
	Capsule    model.Capsule
	PaymentRef string
	ViewURL    string
	Replayed   bool
}

// Protocol runs reconciliations.
type Protocol struct {
	Capsules      Finalizer
	Verifier      Verifier // defaults to TrustingVerifier
	Notifier      Notifier
	Correlations  CorrelationStore
	PublicBaseURL string
	Logger        *slog.Logger
}

func (p *Protocol) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default().With("component", "reconcile")
	}
	return p.Logger
}

// Reconcile finalizes the capsule held by pending with the payment reference
// found in query.  The pending token is cleared only on success.
func (p *Protocol) Reconcile(ctx context.Context, query url.Values, pending PendingStore) (Outcome, error) {
	ref := PaymentReference(query)
	if ref == "" {
		return Outcome{}, p.fail(&Failure{Kind: KindNoPaymentReference, PaymentRef: "unknown"})
	}

	capsuleID, err := pending.Pending(ctx)
	if err != nil {
		return Outcome{}, p.fail(&Failure{Kind: KindStorage, PaymentRef: ref, Err: err})
	}
	if capsuleID == "" {
		return Outcome{}, p.fail(&Failure{Kind: KindSessionLost, PaymentRef: ref})
	}

	verifier := p.Verifier
	if verifier == nil {
		verifier = TrustingVerifier{}
	}
	verdict, err := verifier.Verify(ctx, ref)
	if err != nil {
		return Outcome{}, p.fail(&Failure{Kind: KindStorage, PaymentRef: ref, CapsuleID: capsuleID, Err: err})
	}
	if verdict != VerdictPaid {
		return Outcome{}, p.fail(&Failure{Kind: KindPaymentUnverified, PaymentRef: ref, CapsuleID: capsuleID,
			Err: errors.New("verdict " + verdict.String())})
	}

	c, applied, err := p.Capsules.UpdateProvisioningToken(ctx, capsuleID, ref)
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrAlreadyFinalized),
		errors.Is(err, repository.ErrInvalidPaymentRef):
		return Outcome{}, p.fail(&Failure{Kind: KindReconciliationMismatch, PaymentRef: ref, CapsuleID: capsuleID, Err: err})
	case err != nil:
		return Outcome{}, p.fail(&Failure{Kind: KindStorage, PaymentRef: ref, CapsuleID: capsuleID, Err: err})
	case c.ID == "" || !c.Finalized():
		return Outcome{}, p.fail(&Failure{Kind: KindReconciliationMismatch, PaymentRef: ref, CapsuleID: capsuleID,
			Err: errors.New("update returned no finalized record")})
	}

	if err := pending.Clear(ctx); err != nil {
		p.logger().Warn("pending token not cleared", "capsule_id", c.ID, "error", err)
	}
	if p.Correlations != nil {
		if err := p.Correlations.Release(ctx, c.ID); err != nil {
			p.logger().Warn("reclaim record not released", "capsule_id", c.ID, "error", err)
		}
	}
	out := Outcome{Capsule: c, PaymentRef: ref, ViewURL: lifecycle.ViewURL(p.PublicBaseURL, c.ID), Replayed: !applied}
	if !applied {
		p.logger().Info("finalize replayed", "capsule_id", c.ID, "payment_ref", ref)
		return out, nil
	}
	if p.Notifier != nil {
		if err := p.Notifier.CapsuleFinalized(ctx, c); err != nil {
			p.logger().Warn("finalization event not published", "capsule_id", c.ID, "error", err)
		}
	}
	p.logger().Info("capsule finalized", "capsule_id", c.ID, "payment_ref", ref)
	return out, nil
}

// Reclaim runs Reconcile with the server-side correlation record behind key
// as the pending store.
func (p *Protocol) Reclaim(ctx context.Context, key string, query url.Values) (Outcome, error) {
	if p.Correlations == nil {
		return Outcome{}, p.fail(&Failure{Kind: KindSessionLost, PaymentRef: orUnknown(PaymentReference(query)),
			Err: errors.New("reclaim keys are not enabled")})
	}
	return p.Reconcile(ctx, query, correlationPending{store: p.Correlations, key: key})
}

func (p *Protocol) fail(f *Failure) error {
	p.logger().Warn("reconciliation failed", "kind", f.Kind.String(), "payment_ref", f.PaymentRef,
		"capsule_id", f.CapsuleID, "error", f.Err)
	return f
}

type correlationPending struct {
	store CorrelationStore
	key   string
}

func (c correlationPending) Pending(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.key) == "" {
		return "", nil
	}
	id, err := c.store.Peek(ctx, c.key)
	if errors.Is(err, repository.ErrCorrelationNotFound) {
		return "", nil
	}
	return id, err
}

func (c correlationPending) Clear(ctx context.Context) error {
	return c.store.Delete(ctx, c.key)
}
