package rbac

import "errors"

var (
	// ErrNotFound indicates a referenced user, role, or permission row
	// does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation, e.g. a duplicate role
	// name or duplicate user-role assignment
	ErrConflict = errors.New("conflict")
)
