package api

import (
	"errors"
	"net/http"

	"github.com/jobgate/jobgate/pkg/auth"
	"github.com/jobgate/jobgate/pkg/httputil"
	"github.com/jobgate/jobgate/pkg/middleware"
	"github.com/jobgate/jobgate/pkg/observability"
	"github.com/jobgate/jobgate/pkg/rbac"
	"github.com/jobgate/jobgate/pkg/users"
)

// AuthHandlers handles login, token refresh, and the caller's own
// identity endpoints
type AuthHandlers struct {
	users    *users.Store
	resolver *rbac.Resolver
	issuer   *auth.TokenIssuer
	logger   *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(userStore *users.Store, resolver *rbac.Resolver, issuer *auth.TokenIssuer, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		users:    userStore,
		resolver: resolver,
		issuer:   issuer,
		logger:   logger,
	}
}

// login handles POST /api/v1/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "username and password are required")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	resp, err := h.issueTokens(user)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if err := h.users.TouchLastLogin(r.Context(), user.ID); err != nil {
		h.logger.WithError(err).WithField("user_id", user.ID).Warn("failed to record last login")
	}

	httputil.WriteSuccess(w, resp)
}

// refresh handles POST /api/v1/auth/refresh
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteBadRequest(w, "refresh_token is required")
		return
	}

	claims, err := h.issuer.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid refresh token")
		return
	}

	// Re-read the account: deactivation revokes outstanding refresh tokens
	user, err := h.users.GetUser(r.Context(), claims.UserID)
	if errors.Is(err, rbac.ErrNotFound) {
		httputil.WriteUnauthorized(w, "invalid refresh token")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !user.IsActive {
		httputil.WriteUnauthorized(w, "account is deactivated")
		return
	}

	resp, err := h.issueTokens(user)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, resp)
}

// me handles GET /api/v1/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.users.GetUser(r.Context(), authCtx.UserID)
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

// myPermissions handles GET /api/v1/me/permissions
func (h *AuthHandlers) myPermissions(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	perms, err := h.resolver.Resolve(r.Context(), authCtx.UserID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, perms)
}

func (h *AuthHandlers) issueTokens(user *rbac.User) (*LoginResponse, error) {
	access, err := h.issuer.IssueAccessToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		return nil, err
	}
	refresh, err := h.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user,
	}, nil
}
