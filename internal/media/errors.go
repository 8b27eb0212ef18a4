// Package media collects and prepares the assets of a capsule: the photo
// selection, the voice recorder and the lossy image normalizer.
package media

import "errors"

var (
	// ErrCapacityExceeded is returned when a selection would hold more than
	// MaxPhotos images.  The selection is left unchanged.
	ErrCapacityExceeded = errors.New("capacity exceeded: at most 3 photos")

	// ErrDeviceUnavailable is returned when the capture device cannot be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	ErrAlreadyRecording = errors.New("recorder already recording")
	ErrNotRecording     = errors.New("recorder not recording")
	ErrClipTooLarge     = errors.New("recording exceeds maximum clip size")
)
