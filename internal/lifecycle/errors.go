// Package lifecycle creates capsules: it validates a submission, uploads its
// assets and records the draft or finalized capsule.
package lifecycle

import (
	"errors"

	"github.com/iliyamo/time-capsule/internal/media"
	"github.com/iliyamo/time-capsule/internal/storage"
)

var (
	// ErrNoContent is returned when a submission has neither photo nor audio.
	ErrNoContent = errors.New("at least one photo or an audio recording is required")
	// ErrMessageTooLong is returned when the text message exceeds the limit.
	ErrMessageTooLong = errors.New("message too long")
	// ErrCapacityExceeded is shared with the photo selection.
	ErrCapacityExceeded = media.ErrCapacityExceeded
	// ErrStorage is returned when no asset could be uploaded or the capsule
	// record could not be written.
	ErrStorage = storage.ErrStorage
)
