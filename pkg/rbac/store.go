package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store handles role and permission persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for collaborators sharing the pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateRole creates a new role. Returns ErrConflict if the name is taken.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	var existing int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, role.Name).Scan(&existing)
	if err == nil {
		return fmt.Errorf("role %q already exists: %w", role.Name, ErrConflict)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check role name: %w", err)
	}

	now := time.Now()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, role.Name, role.Description, now, now).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		WHERE id = $1
	`, roleID).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	return &role, nil
}

// ListRoles returns all roles, newest first
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// UpdateRole updates a role's name and description. Returns ErrConflict when
// renaming to a name another role already uses.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM roles WHERE name = $1 AND id <> $2`, role.Name, role.ID).Scan(&existing)
	if err == nil {
		return fmt.Errorf("role name %q already exists: %w", role.Name, ErrConflict)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check role name: %w", err)
	}

	role.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE roles SET name = $1, description = $2, updated_at = $3 WHERE id = $4
	`, role.Name, role.Description, role.UpdatedAt, role.ID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("role %d: %w", role.ID, ErrNotFound)
	}

	return nil
}

// DeleteRole deletes a role. Assignments and permission rows cascade.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}

	return nil
}

// AssignRole grants a role to a user. Returns ErrConflict on duplicate
// assignment, ErrNotFound when user or role is missing.
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}
	if _, _, err := s.userFlags(ctx, userID); err != nil {
		return err
	}

	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID).Scan(&existing)
	if err == nil {
		return fmt.Errorf("user %d already holds role %d: %w", userID, roleID, ErrConflict)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check assignment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4)
	`, userID, roleID, assignedBy, time.Now())
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	return nil
}

// UnassignRole revokes a role from a user
func (s *Store) UnassignRole(ctx context.Context, userID, roleID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("assignment of role %d to user %d: %w", roleID, userID, ErrNotFound)
	}

	return nil
}

// ListUserRoles returns all roles held by a user
func (s *Store) ListUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// ListRoleMembers returns the users assigned to a role
func (s *Store) ListRoleMembers(ctx context.Context, roleID int64) ([]RoleMember, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.is_admin, u.is_active, ur.assigned_at, ur.assigned_by
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role_id = $1
		ORDER BY u.username
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}
	defer rows.Close()

	var members []RoleMember
	for rows.Next() {
		var m RoleMember
		var assignedBy sql.NullInt64
		if err := rows.Scan(&m.User.ID, &m.User.Username, &m.User.Email,
			&m.User.IsAdmin, &m.User.IsActive, &m.AssignedAt, &assignedBy); err != nil {
			return nil, fmt.Errorf("failed to scan role member: %w", err)
		}
		if assignedBy.Valid {
			id := assignedBy.Int64
			m.AssignedBy = &id
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

// UpsertPermission creates or updates the permission row for (role, job).
// At most one row exists per pair.
func (s *Store) UpsertPermission(ctx context.Context, perm *RoleJobPermission) error {
	if _, err := s.GetRole(ctx, perm.RoleID); err != nil {
		return err
	}

	now := time.Now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO role_job_permissions (role_id, job_id, app_name, can_view, can_execute, can_edit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (role_id, job_id) DO UPDATE SET
			app_name = EXCLUDED.app_name,
			can_view = EXCLUDED.can_view,
			can_execute = EXCLUDED.can_execute,
			can_edit = EXCLUDED.can_edit,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, perm.RoleID, perm.JobID, perm.AppName, perm.CanView, perm.CanExecute, perm.CanEdit, now, now).Scan(&perm.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}

	perm.UpdatedAt = now
	return nil
}

// ListRolePermissions returns all permission rows of a role ordered by job ID
func (s *Store) ListRolePermissions(ctx context.Context, roleID int64) ([]RoleJobPermission, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role_id, job_id, app_name, can_view, can_execute, can_edit, created_at, updated_at
		FROM role_job_permissions
		WHERE role_id = $1
		ORDER BY job_id
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	return scanPermissionRows(rows)
}

// DeletePermission removes the permission row for (role, job)
func (s *Store) DeletePermission(ctx context.Context, roleID, jobID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM role_job_permissions WHERE role_id = $1 AND job_id = $2`, roleID, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("permission for job %d in role %d: %w", jobID, roleID, ErrNotFound)
	}

	return nil
}

// ReplaceRolePermissions swaps a role's entire permission set in one
// transaction, so a concurrent resolver never observes the role mid-replace
// with an empty set.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID int64, perms []RoleJobPermission) error {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM role_job_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear permissions: %w", err)
	}

	now := time.Now()
	for _, perm := range perms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_job_permissions (role_id, job_id, app_name, can_view, can_execute, can_edit, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (role_id, job_id) DO UPDATE SET
				app_name = EXCLUDED.app_name,
				can_view = EXCLUDED.can_view,
				can_execute = EXCLUDED.can_execute,
				can_edit = EXCLUDED.can_edit,
				updated_at = EXCLUDED.updated_at
		`, roleID, perm.JobID, perm.AppName, perm.CanView, perm.CanExecute, perm.CanEdit, now, now); err != nil {
			return fmt.Errorf("failed to insert permission for job %d: %w", perm.JobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit permission replace: %w", err)
	}

	return nil
}

// PermissionRowsForUser returns every permission row belonging to any role
// the user holds. The resolver merges these rows; they are returned raw so
// the merge stays separately testable.
func (s *Store) PermissionRowsForUser(ctx context.Context, userID int64) ([]RoleJobPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.role_id, p.job_id, p.app_name, p.can_view, p.can_execute, p.can_edit, p.created_at, p.updated_at
		FROM role_job_permissions p
		JOIN user_roles ur ON ur.role_id = p.role_id
		WHERE ur.user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user permissions: %w", err)
	}
	defer rows.Close()

	return scanPermissionRows(rows)
}

// HasJobPermission reports whether any role held by the user grants the
// given action on the job. Semantically equal to merging the user's rows
// and checking one flag, but runs as a single EXISTS query.
func (s *Store) HasJobPermission(ctx context.Context, userID, jobID int64, kind PermissionKind) (bool, error) {
	var column string
	switch kind {
	case PermissionView:
		column = "can_view"
	case PermissionExecute:
		column = "can_execute"
	case PermissionEdit:
		column = "can_edit"
	default:
		return false, fmt.Errorf("unknown permission kind: %q", kind)
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1
			FROM role_job_permissions p
			JOIN user_roles ur ON ur.role_id = p.role_id
			WHERE ur.user_id = $1 AND p.job_id = $2 AND p.%s
		)
	`, column), userID, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}

	return exists, nil
}

// userFlags returns (isAdmin, isActive) for a user, or ErrNotFound
func (s *Store) userFlags(ctx context.Context, userID int64) (isAdmin, isActive bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT is_admin, is_active FROM users WHERE id = $1`, userID).Scan(&isAdmin, &isActive)
	if err == sql.ErrNoRows {
		return false, false, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get user flags: %w", err)
	}
	return isAdmin, isActive, nil
}

func scanPermissionRows(rows *sql.Rows) ([]RoleJobPermission, error) {
	var perms []RoleJobPermission
	for rows.Next() {
		var p RoleJobPermission
		if err := rows.Scan(&p.ID, &p.RoleID, &p.JobID, &p.AppName,
			&p.CanView, &p.CanExecute, &p.CanEdit, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
