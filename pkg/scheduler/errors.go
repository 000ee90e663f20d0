package scheduler

import "errors"

var (
	// ErrUnavailable means the admin could not be reached or refused the
	// session. Callers surface it as a gateway failure, never as a
	// permission decision.
	ErrUnavailable = errors.New("scheduler unavailable")

	// ErrNotFound means the admin does not know the requested entity
	ErrNotFound = errors.New("not found in scheduler")
)
