package rbac

import (
	"context"
	"errors"
	"fmt"
)

// Resolver computes a user's effective job permissions at call time.
// Results are never cached: a role or assignment change is visible on the
// very next resolution.
type Resolver struct {
	store *Store
}

// NewResolver creates a resolver backed by the given store
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the user's effective permissions. Unknown users resolve
// to an empty non-admin set rather than an error, so callers deny without
// branching on lookup failures. Admins short-circuit with IsAdmin set and
// no per-job rows.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (*UserPermissions, error) {
	isAdmin, isActive, err := r.store.userFlags(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &UserPermissions{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %d: %w", userID, err)
	}

	if !isActive {
		return &UserPermissions{UserID: userID}, nil
	}

	if isAdmin {
		return &UserPermissions{UserID: userID, IsAdmin: true}, nil
	}

	rows, err := r.store.PermissionRowsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for user %d: %w", userID, err)
	}

	return &UserPermissions{
		UserID:      userID,
		Permissions: MergePermissions(rows),
	}, nil
}
