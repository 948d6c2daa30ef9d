package domain

import "errors"

var (
	// ErrValidation marks bad input. Never retried, surfaced synchronously.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a lost conditional update or an illegal state transition.
	ErrConflict = errors.New("conflict")
	// ErrNoRecipients marks a broadcast target group that resolved to nobody.
	ErrNoRecipients = errors.New("no recipients resolved")
)
