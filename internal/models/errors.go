package models

import "errors"

// Error taxonomy for the tracking write path. Duplicates are not errors;
// they are reported through TrackResult.
var (
	// ErrValidation marks malformed input: bad event type, empty required
	// identity field, malformed date.
	ErrValidation = errors.New("validation failed")

	// ErrPersistence marks an unreachable store or unexpected constraint
	// violation. The write is aborted as a unit; callers may retry.
	ErrPersistence = errors.New("persistence failed")
)
