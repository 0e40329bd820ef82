package domain

import "errors"

var (
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing submission or queue entry.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation rejected because of concurrent state change.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyQueued marks an enqueue attempt for a submission that already
	// has an active queue entry.
	ErrAlreadyQueued = errors.New("submission already queued")

	// ErrInvalidTransition marks a status change the state machine forbids,
	// e.g. confirming a still-pending submission.
	ErrInvalidTransition = errors.New("invalid state transition")
)
