// Package queue defines message payloads exchanged over the message broker
// and the consumer that records them.
package queue

import (
	"time"

	"github.com/iliyamo/time-capsule/internal/model"
)

// CapsuleFinalizedQueue is the durable queue carrying CapsuleFinalizedEvent.
const CapsuleFinalizedQueue = "capsule.finalized"

// CapsuleFinalizedEvent is published when a capsule leaves the draft state,
// either at free-path creation or after a successful reconciliation.
type CapsuleFinalizedEvent struct {
	CapsuleID   string `json:"capsule_id"`
	Source      string `json:"source"`
	PaymentRef  string `json:"payment_ref,omitempty"`
	PhotoCount  int    `json:"photo_count"`
	HasAudio    bool   `json:"has_audio"`
	HasMessage  bool   `json:"has_message"`
	UnlockAt    string `json:"unlock_at"`
	FinalizedAt string `json:"finalized_at"`
}

// NewCapsuleFinalizedEvent builds the event for c.  Timestamps are RFC3339 UTC.
func NewCapsuleFinalizedEvent(c model.Capsule) CapsuleFinalizedEvent {
	ev := CapsuleFinalizedEvent{
		CapsuleID:  c.ID,
		Source:     string(c.Source),
		PhotoCount: len(c.PhotoURLs),
		HasAudio:   c.AudioURL != nil,
		HasMessage: c.Message != "",
		UnlockAt:   c.UnlockAt.UTC().Format(time.RFC3339),
	}
	if c.PaymentRef != nil {
		ev.PaymentRef = *c.PaymentRef
	}
	finalized := time.Now()
	if c.FinalizedAt != nil {
		finalized = *c.FinalizedAt
	}
	ev.FinalizedAt = finalized.UTC().Format(time.RFC3339)
	return ev
}
