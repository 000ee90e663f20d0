package rbac

import (
	"sort"
	"time"
)

// PermissionKind identifies one of the three gated job actions
type PermissionKind string

const (
	PermissionView    PermissionKind = "view"
	PermissionExecute PermissionKind = "execute"
	PermissionEdit    PermissionKind = "edit"
)

// Valid reports whether the kind is one of view/execute/edit
func (k PermissionKind) Valid() bool {
	switch k {
	case PermissionView, PermissionExecute, PermissionEdit:
		return true
	}
	return false
}

// User is an account that may hold roles. Admins bypass all per-job
// permission checks; inactive users are denied everything.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	IsAdmin      bool       `json:"is_admin"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Role is a named group of job permissions. Users hold zero or more roles.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleJobPermission is the unit of authorization: one row per (role, job),
// carrying the three independent action flags. AppName is the external
// scheduler's executor group the job belongs to, denormalized here so job
// groups can be filtered without a scheduler round trip.
type RoleJobPermission struct {
	ID         int64     `json:"id"`
	RoleID     int64     `json:"role_id"`
	JobID      int64     `json:"job_id"`
	AppName    string    `json:"app_name"`
	CanView    bool      `json:"can_view"`
	CanExecute bool      `json:"can_execute"`
	CanEdit    bool      `json:"can_edit"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoleMember describes one user's assignment to a role
type RoleMember struct {
	User       User      `json:"user"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
}

// JobPermission is the effective (merged) permission for one job
type JobPermission struct {
	JobID      int64  `json:"job_id"`
	AppName    string `json:"app_name"`
	CanView    bool   `json:"can_view"`
	CanExecute bool   `json:"can_execute"`
	CanEdit    bool   `json:"can_edit"`
}

// Allows reports whether the merged permission grants the given action
func (p JobPermission) Allows(kind PermissionKind) bool {
	switch kind {
	case PermissionView:
		return p.CanView
	case PermissionExecute:
		return p.CanExecute
	case PermissionEdit:
		return p.CanEdit
	}
	return false
}

// UserPermissions is the result of resolving a user's roles. For admins,
// Permissions is empty: admins never need enumerated grants.
type UserPermissions struct {
	UserID      int64           `json:"user_id"`
	IsAdmin     bool            `json:"is_admin"`
	Permissions []JobPermission `json:"permissions"`
}

// Find returns the merged permission for a job, if present
func (u UserPermissions) Find(jobID int64) (JobPermission, bool) {
	for _, p := range u.Permissions {
		if p.JobID == jobID {
			return p, true
		}
	}
	return JobPermission{}, false
}

// MergePermissions reduces raw permission rows from all of a user's roles
// into one entry per job, OR-ing each flag. OR is commutative, so row order
// never changes the flags; AppName is taken from the last row scanned for a
// job (rows for one job are expected to agree on it). The result is sorted
// by job ID for stable output.
func MergePermissions(rows []RoleJobPermission) []JobPermission {
	merged := make(map[int64]JobPermission, len(rows))

	for _, row := range rows {
		p := merged[row.JobID]
		p.JobID = row.JobID
		p.AppName = row.AppName
		p.CanView = p.CanView || row.CanView
		p.CanExecute = p.CanExecute || row.CanExecute
		p.CanEdit = p.CanEdit || row.CanEdit
		merged[row.JobID] = p
	}

	result := make([]JobPermission, 0, len(merged))
	for _, p := range merged {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].JobID < result[j].JobID })

	return result
}
