package api

import (
	"github.com/jobgate/jobgate/pkg/audit"
	"github.com/jobgate/jobgate/pkg/rbac"
	"github.com/jobgate/jobgate/pkg/scheduler"
)

// LoginRequest carries username/password credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse returns the token pair plus the authenticated user
type LoginResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	User         *rbac.User `json:"user"`
}

// RefreshRequest exchanges a refresh token for a fresh token pair
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// CreateUserRequest creates a new account
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// UpdateUserRequest updates mutable account fields. Nil fields are left
// unchanged.
type UpdateUserRequest struct {
	Email   *string `json:"email"`
	IsAdmin *bool   `json:"is_admin"`
}

// SetPasswordRequest rotates an account's password
type SetPasswordRequest struct {
	Password string `json:"password"`
}

// AssignRoleRequest grants a role to a user
type AssignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

// UserListResponse is a listing of accounts
type UserListResponse struct {
	Total int64       `json:"total"`
	Users []rbac.User `json:"users"`
}

// RoleRequest creates or updates a role
type RoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PermissionRequest sets one role's permission row for a job
type PermissionRequest struct {
	JobID      int64  `json:"job_id"`
	AppName    string `json:"app_name"`
	CanView    bool   `json:"can_view"`
	CanExecute bool   `json:"can_execute"`
	CanEdit    bool   `json:"can_edit"`
}

// ReplacePermissionsRequest replaces a role's full permission set
type ReplacePermissionsRequest struct {
	Permissions []PermissionRequest `json:"permissions"`
}

// TriggerJobRequest fires a job once, optionally overriding the executor
// parameter and address list for this run only
type TriggerJobRequest struct {
	ExecutorParam string `json:"executor_param"`
	AddressList   string `json:"address_list"`
}

// UpdateJobRequest carries the editable job fields. Nil fields are left
// untouched upstream.
type UpdateJobRequest struct {
	JobGroup               *int64  `json:"jobGroup"`
	JobDesc                *string `json:"jobDesc"`
	Author                 *string `json:"author"`
	AlarmEmail             *string `json:"alarmEmail"`
	ScheduleType           *string `json:"scheduleType"`
	ScheduleConf           *string `json:"scheduleConf"`
	MisfireStrategy        *string `json:"misfireStrategy"`
	ExecutorRouteStrategy  *string `json:"executorRouteStrategy"`
	ExecutorHandler        *string `json:"executorHandler"`
	ExecutorParam          *string `json:"executorParam"`
	ExecutorBlockStrategy  *string `json:"executorBlockStrategy"`
	ExecutorTimeout        *int    `json:"executorTimeout"`
	ExecutorFailRetryCount *int    `json:"executorFailRetryCount"`
	GlueType               *string `json:"glueType"`
	GlueSource             *string `json:"glueSource"`
	GlueRemark             *string `json:"glueRemark"`
	ChildJobID             *string `json:"childJobId"`
}

// GroupListResponse lists the executor groups visible to the caller
type GroupListResponse struct {
	Groups []scheduler.Group `json:"groups"`
}

// AuditSearchResponse is a page of audit records
type AuditSearchResponse struct {
	Total   int64           `json:"total"`
	Records []*audit.Record `json:"records"`
}
