package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jobgate/jobgate/pkg/httputil"
	"github.com/jobgate/jobgate/pkg/middleware"
	"github.com/jobgate/jobgate/pkg/rbac"
	"github.com/jobgate/jobgate/pkg/users"
)

// UserHandlers handles account management. All routes are admin-only.
type UserHandlers struct {
	users *users.Store
	roles *rbac.Store
}

// NewUserHandlers creates a new user handlers instance
func NewUserHandlers(userStore *users.Store, roleStore *rbac.Store) *UserHandlers {
	return &UserHandlers{
		users: userStore,
		roles: roleStore,
	}
}

// RegisterRoutes registers user management routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.createUser).Methods("POST")
	router.HandleFunc("/users", h.listUsers).Methods("GET")
	router.HandleFunc("/users/{id}", h.getUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.updateUser).Methods("PUT")
	router.HandleFunc("/users/{id}/password", h.setPassword).Methods("PUT")
	router.HandleFunc("/users/{id}/activate", h.activate).Methods("POST")
	router.HandleFunc("/users/{id}/deactivate", h.deactivate).Methods("POST")

	router.HandleFunc("/users/{id}/roles", h.listUserRoles).Methods("GET")
	router.HandleFunc("/users/{id}/roles", h.assignRole).Methods("POST")
	router.HandleFunc("/users/{id}/roles/{role_id}", h.unassignRole).Methods("DELETE")
}

// createUser handles POST /api/v1/users
func (h *UserHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" {
		httputil.WriteBadRequest(w, "username is required")
		return
	}
	if req.Password == "" {
		httputil.WriteBadRequest(w, "password is required")
		return
	}

	user := &rbac.User{
		Username: req.Username,
		Email:    req.Email,
		IsAdmin:  req.IsAdmin,
		IsActive: true,
	}
	err := h.users.CreateUser(r.Context(), user, req.Password)
	if errors.Is(err, rbac.ErrConflict) {
		httputil.WriteConflict(w, "username or email already in use")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, user)
}

// listUsers handles GET /api/v1/users
func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.ListUsers(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, UserListResponse{
		Total: int64(len(list)),
		Users: list,
	})
}

// getUser handles GET /api/v1/users/{id}
func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

// updateUser handles PUT /api/v1/users/{id}
func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.IsAdmin != nil {
		user.IsAdmin = *req.IsAdmin
	}

	err = h.users.UpdateUser(r.Context(), user)
	if errors.Is(err, rbac.ErrConflict) {
		httputil.WriteConflict(w, "email already in use")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

// setPassword handles PUT /api/v1/users/{id}/password
func (h *UserHandlers) setPassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req SetPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Password == "" {
		httputil.WriteBadRequest(w, "password is required")
		return
	}

	if err := h.users.SetPassword(r.Context(), userID, req.Password); err != nil {
		h.writeUserError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// activate handles POST /api/v1/users/{id}/activate
func (h *UserHandlers) activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// deactivate handles POST /api/v1/users/{id}/deactivate
func (h *UserHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *UserHandlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.users.SetActive(r.Context(), userID, active); err != nil {
		h.writeUserError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// listUserRoles handles GET /api/v1/users/{id}/roles
func (h *UserHandlers) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	roles, err := h.roles.ListUserRoles(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, roles)
}

// assignRole handles POST /api/v1/users/{id}/roles
func (h *UserHandlers) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req AssignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID == 0 {
		httputil.WriteBadRequest(w, "role_id is required")
		return
	}

	var assignedBy *int64
	if authCtx := middleware.GetAuthContext(r); authCtx != nil {
		assignedBy = &authCtx.UserID
	}

	err := h.roles.AssignRole(r.Context(), userID, req.RoleID, assignedBy)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user or role not found")
		return
	}
	if errors.Is(err, rbac.ErrConflict) {
		httputil.WriteConflict(w, "role already assigned")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// unassignRole handles DELETE /api/v1/users/{id}/roles/{role_id}
func (h *UserHandlers) unassignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	err := h.roles.UnassignRole(r.Context(), userID, roleID)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "assignment not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *UserHandlers) writeUserError(w http.ResponseWriter, err error) {
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}
	httputil.WriteInternalError(w, err)
}
