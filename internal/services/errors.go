package services

import (
	"errors"
)

// Boundary error kinds; the handler surface translates these to HTTP codes.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("missing or invalid credential")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("precondition failed")
	ErrInternal     = errors.New("internal inconsistency")

	// Runner session errors.
	ErrAlreadyOnline   = errors.New("runner already online")
	ErrSessionMismatch = errors.New("session token mismatch; runner credential was reused elsewhere")
	ErrNoAssignment    = errors.New("no job assigned")
	ErrJobAborting     = errors.New("assigned job is aborting")
	ErrNotInProgress   = errors.New("no job in progress")
)
