package model

import (
	"strings"
	"time"
)

// MaxPhotos is the number of photos a single capsule may carry.
const MaxPhotos = 3

// Token prefixes used by the two provisioning paths that mint their own token.
// A paid capsule carries the gateway transaction reference instead.
const (
	PendingTokenPrefix = "PENDING_"
	FreeTokenPrefix    = "FREE_"
)

// Source records how a capsule was provisioned.  It is the state
// discriminant of the lifecycle: only SourcePending capsules are drafts.
type Source string

const (
	SourcePending Source = "pending" // awaiting payment confirmation
	SourceFree    Source = "free"    // privileged, no payment
	SourcePaid    Source = "paid"    // confirmed by reconciliation
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourcePending, SourceFree, SourcePaid:
		return true
	}
	return false
}

// State is the lifecycle state derived from the provisioning source.
type State string

const (
	StateDraftUnconfirmed State = "draft_unconfirmed"
	StateDraftFree        State = "draft_free"
	StateFinalized        State = "finalized"
)

// Capsule is the only persisted entity of the service.
//
// Fields:
//
//	ID                 – opaque identifier assigned at creation.
//	Message            – optional text message.
//	AudioURL           – public address of the voice recording (nullable).
//	PhotoURLs          – public photo addresses in selection order (0..3).
//	UnlockAt           – release instant.
//	ProvisioningToken  – PENDING_*/FREE_* nonce, or the payment reference once paid.
//	Source             – pending | free | paid.
//	PaymentRef         – gateway reference, set only by reconciliation.
//	CreatedAt          – creation timestamp.
//	FinalizedAt        – when the capsule left the draft state (nullable).
type Capsule struct {
	ID                string     `json:"id"`
	Message           string     `json:"message"`
	AudioURL          *string    `json:"audio_url"`
	PhotoURLs         []string   `json:"photo_urls"`
	UnlockAt          time.Time  `json:"unlock_at"`
	ProvisioningToken string     `json:"-"`
	Source            Source     `json:"source"`
	PaymentRef        *string    `json:"payment_ref,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty"`
}

// Finalized reports whether the capsule has left the draft state.  It reads
// the explicit source; the token prefix is kept consistent with it but is
// never consulted here.
func (c Capsule) Finalized() bool {
	return c.Source == SourceFree || c.Source == SourcePaid
}

// State maps the provisioning source onto the lifecycle states.  A free
// capsule is created finalized, so StateDraftFree is only observed by the
// state machine during submission and never on a stored record.
func (c Capsule) State() State {
	if c.Finalized() {
		return StateFinalized
	}
	return StateDraftUnconfirmed
}

// HasContent reports whether the capsule carries a photo or a recording.
func (c Capsule) HasContent() bool {
	return len(c.PhotoURLs) > 0 || (c.AudioURL != nil && *c.AudioURL != "")
}

// IsPendingToken reports whether token has the draft shape.  Only used to
// validate tokens before they are written.
func IsPendingToken(token string) bool {
	return strings.HasPrefix(token, PendingTokenPrefix)
}

// PendingCookieName is the cookie holding the correlation token (the draft
// capsule id) between checkout and the payment callback.
const PendingCookieName = "pending_capsule_id"
