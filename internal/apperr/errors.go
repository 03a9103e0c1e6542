package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrAuthExpired marks an unusable platform credential; the scheduler
	// attempts exactly one refresh before skipping the user.
	ErrAuthExpired = errors.New("credential expired")

	// ErrTransient marks a network or platform failure. It is not retried
	// within a run; the next scheduled run picks the account up again.
	ErrTransient = errors.New("transient platform error")

	// ErrMalformedSnapshot marks a fetched campaign document that lacks
	// required identifying fields.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
)
