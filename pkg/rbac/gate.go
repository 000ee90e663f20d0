package rbac

import (
	"context"
	"errors"
	"fmt"
)

// Gate answers single yes/no authorization questions without materializing
// the user's full permission set.
type Gate struct {
	store *Store
}

// NewGate creates an authorization gate backed by the given store
func NewGate(store *Store) *Gate {
	return &Gate{store: store}
}

// Authorize reports whether the user may perform the given action on the
// job. Missing or inactive users are denied, not errored. Active admins
// are always allowed.
func (g *Gate) Authorize(ctx context.Context, userID, jobID int64, kind PermissionKind) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("unknown permission kind: %q", kind)
	}

	isAdmin, isActive, err := g.store.userFlags(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to authorize user %d: %w", userID, err)
	}

	if !isActive {
		return false, nil
	}
	if isAdmin {
		return true, nil
	}

	return g.store.HasJobPermission(ctx, userID, jobID, kind)
}
