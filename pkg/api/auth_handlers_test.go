package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgate/jobgate/pkg/rbac"
)

func TestLogin(t *testing.T) {
	env := setupServer(t)
	user := env.createUser(t, "alice", "s3cret", false)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{
		Username: "alice",
		Password: "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, user.ID, resp.User.ID)
	assert.Empty(t, resp.User.PasswordHash)

	// Login stamps last_login_at
	refreshed, err := env.users.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotNil(t, refreshed.LastLoginAt)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := setupServer(t)
	env.createUser(t, "alice", "s3cret", false)

	tests := []struct {
		name string
		req  LoginRequest
	}{
		{"wrong password", LoginRequest{Username: "alice", Password: "wrong"}},
		{"unknown user", LoginRequest{Username: "mallory", Password: "s3cret"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", tt.req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("missing fields", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "alice"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogin_DeactivatedUser(t *testing.T) {
	env := setupServer(t)
	user := env.createUser(t, "alice", "s3cret", false)
	require.NoError(t, env.users.SetActive(context.Background(), user.ID, false))

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{
		Username: "alice",
		Password: "s3cret",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh(t *testing.T) {
	env := setupServer(t)
	user := env.createUser(t, "alice", "s3cret", false)

	refresh, err := env.issuer.IssueRefreshToken(user.ID)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", RefreshRequest{RefreshToken: refresh})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.AccessToken)

	// The new access token works against a protected route
	me := env.do(t, http.MethodGet, "/api/v1/me", resp.AccessToken, nil)
	assert.Equal(t, http.StatusOK, me.Code)
}

func TestRefresh_Rejected(t *testing.T) {
	env := setupServer(t)
	user := env.createUser(t, "alice", "s3cret", false)

	t.Run("access token is not a refresh token", func(t *testing.T) {
		access := env.token(t, user)
		rec := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", RefreshRequest{RefreshToken: access})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("deactivated user", func(t *testing.T) {
		refresh, err := env.issuer.IssueRefreshToken(user.ID)
		require.NoError(t, err)
		require.NoError(t, env.users.SetActive(context.Background(), user.ID, false))

		rec := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", RefreshRequest{RefreshToken: refresh})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", RefreshRequest{RefreshToken: "nonsense"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestMe(t *testing.T) {
	env := setupServer(t)
	user := env.createUser(t, "alice", "s3cret", false)

	rec := env.do(t, http.MethodGet, "/api/v1/me", env.token(t, user), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got rbac.User
	decodeBody(t, rec, &got)
	assert.Equal(t, "alice", got.Username)

	t.Run("unauthenticated", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestMyPermissions(t *testing.T) {
	env := setupServer(t)
	user := env.createUser(t, "alice", "s3cret", false)
	env.grantJob(t, user.ID, 1, "payments-executor", true, true, false)

	rec := env.do(t, http.MethodGet, "/api/v1/me/permissions", env.token(t, user), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var perms rbac.UserPermissions
	decodeBody(t, rec, &perms)
	assert.Equal(t, user.ID, perms.UserID)
	assert.False(t, perms.IsAdmin)
	require.Len(t, perms.Permissions, 1)
	assert.Equal(t, int64(1), perms.Permissions[0].JobID)
	assert.True(t, perms.Permissions[0].CanExecute)
	assert.False(t, perms.Permissions[0].CanEdit)
}

func TestMyPermissions_Admin(t *testing.T) {
	env := setupServer(t)
	admin := env.createUser(t, "root", "s3cret", true)

	rec := env.do(t, http.MethodGet, "/api/v1/me/permissions", env.token(t, admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var perms rbac.UserPermissions
	decodeBody(t, rec, &perms)
	assert.True(t, perms.IsAdmin)
	assert.Empty(t, perms.Permissions)
}
