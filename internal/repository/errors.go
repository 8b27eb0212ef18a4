// Package repository defines the data access layer and the error values
// shared across its stores.  Handlers and services compare against these
// sentinels with errors.Is to tell a miss apart from a store failure.
package repository

import "errors"

// ErrNotFound is returned when no capsule matches the requested id.
var ErrNotFound = errors.New("capsule not found")

// ErrAlreadyFinalized is returned when a finalize write targets a capsule
// that already left the draft state with a different payment reference.
var ErrAlreadyFinalized = errors.New("capsule already finalized")

// ErrTooManyPhotos is returned when a capsule would carry more photos than
// model.MaxPhotos.
var ErrTooManyPhotos = errors.New("too many photos")

// ErrCorrelationNotFound is returned when a reclaim key is unknown or expired.
var ErrCorrelationNotFound = errors.New("correlation record not found")

// ErrInvalidPaymentRef is returned when a finalize is attempted with an empty
// reference or one shaped like a draft token.
var ErrInvalidPaymentRef = errors.New("invalid payment reference")
