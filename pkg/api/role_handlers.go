package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jobgate/jobgate/pkg/httputil"
	"github.com/jobgate/jobgate/pkg/rbac"
)

// RoleHandlers handles role and permission management. All routes are
// admin-only.
type RoleHandlers struct {
	roles *rbac.Store
}

// NewRoleHandlers creates a new role handlers instance
func NewRoleHandlers(roleStore *rbac.Store) *RoleHandlers {
	return &RoleHandlers{roles: roleStore}
}

// RegisterRoutes registers role management routes
func (h *RoleHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.createRole).Methods("POST")
	router.HandleFunc("/roles", h.listRoles).Methods("GET")
	router.HandleFunc("/roles/{id}", h.getRole).Methods("GET")
	router.HandleFunc("/roles/{id}", h.updateRole).Methods("PUT")
	router.HandleFunc("/roles/{id}", h.deleteRole).Methods("DELETE")
	router.HandleFunc("/roles/{id}/members", h.listMembers).Methods("GET")

	router.HandleFunc("/roles/{id}/permissions", h.listPermissions).Methods("GET")
	router.HandleFunc("/roles/{id}/permissions", h.upsertPermission).Methods("POST")
	router.HandleFunc("/roles/{id}/permissions", h.replacePermissions).Methods("PUT")
	router.HandleFunc("/roles/{id}/permissions/{job_id}", h.deletePermission).Methods("DELETE")
}

// createRole handles POST /api/v1/roles
func (h *RoleHandlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	role := &rbac.Role{
		Name:        req.Name,
		Description: req.Description,
	}
	err := h.roles.CreateRole(r.Context(), role)
	if errors.Is(err, rbac.ErrConflict) {
		httputil.WriteConflict(w, "role name already in use")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, role)
}

// listRoles handles GET /api/v1/roles
func (h *RoleHandlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// getRole handles GET /api/v1/roles/{id}
func (h *RoleHandlers) getRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.roles.GetRole(r.Context(), roleID)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

// updateRole handles PUT /api/v1/roles/{id}
func (h *RoleHandlers) updateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	role := &rbac.Role{
		ID:          roleID,
		Name:        req.Name,
		Description: req.Description,
	}
	err := h.roles.UpdateRole(r.Context(), role)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if errors.Is(err, rbac.ErrConflict) {
		httputil.WriteConflict(w, "role name already in use")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, role)
}

// deleteRole handles DELETE /api/v1/roles/{id}
func (h *RoleHandlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	err := h.roles.DeleteRole(r.Context(), roleID)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// listMembers handles GET /api/v1/roles/{id}/members
func (h *RoleHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	members, err := h.roles.ListRoleMembers(r.Context(), roleID)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, members)
}

// listPermissions handles GET /api/v1/roles/{id}/permissions
func (h *RoleHandlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.roles.ListRolePermissions(r.Context(), roleID)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, perms)
}

// upsertPermission handles POST /api/v1/roles/{id}/permissions
func (h *RoleHandlers) upsertPermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req PermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.JobID == 0 {
		httputil.WriteBadRequest(w, "job_id is required")
		return
	}

	perm := &rbac.RoleJobPermission{
		RoleID:     roleID,
		JobID:      req.JobID,
		AppName:    req.AppName,
		CanView:    req.CanView,
		CanExecute: req.CanExecute,
		CanEdit:    req.CanEdit,
	}
	err := h.roles.UpsertPermission(r.Context(), perm)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, perm)
}

// replacePermissions handles PUT /api/v1/roles/{id}/permissions.
// The role's permission set is swapped atomically: either every row in the
// request lands or none do.
func (h *RoleHandlers) replacePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req ReplacePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perms := make([]rbac.RoleJobPermission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		if p.JobID == 0 {
			httputil.WriteBadRequest(w, "job_id is required on every permission")
			return
		}
		perms = append(perms, rbac.RoleJobPermission{
			RoleID:     roleID,
			JobID:      p.JobID,
			AppName:    p.AppName,
			CanView:    p.CanView,
			CanExecute: p.CanExecute,
			CanEdit:    p.CanEdit,
		})
	}

	err := h.roles.ReplaceRolePermissions(r.Context(), roleID, perms)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	result, err := h.roles.ListRolePermissions(r.Context(), roleID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// deletePermission handles DELETE /api/v1/roles/{id}/permissions/{job_id}
func (h *RoleHandlers) deletePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	jobID, ok := httputil.ParsePathInt64OrError(w, r, "job_id")
	if !ok {
		return
	}

	err := h.roles.DeletePermission(r.Context(), roleID, jobID)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "permission not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
