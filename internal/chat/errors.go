package chat

import "errors"

var (
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrNotAuthorized    = errors.New("access denied")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrStaleRun rejects a write from a run that a newer run on the same message superseded.
	ErrStaleRun = errors.New("stale run")
)
