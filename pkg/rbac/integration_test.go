//go:build integration
// +build integration

package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgresContainer starts a throwaway PostgreSQL container, runs the
// migrations against it and returns a connected handle plus a cleanup func.
func setupPostgresContainer(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("jobgate_test"),
		postgres.WithUsername("jobgate"),
		postgres.WithPassword("jobgate_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, RunMigrations(ctx, db), "Failed to run migrations")

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close database: %v", err)
		}

		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func insertIntegrationUser(t *testing.T, db *sql.DB, username string, isAdmin bool) int64 {
	t.Helper()

	var id int64
	now := time.Now()
	err := db.QueryRow(`
		INSERT INTO users (username, email, password_hash, is_admin, is_active, created_at, updated_at)
		VALUES ($1, $2, '', $3, TRUE, $4, $4)
		RETURNING id
	`, username, username+"@example.com", isAdmin, now).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestIntegration_MigrationsIdempotent(t *testing.T) {
	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	// Second run must be a no-op
	require.NoError(t, RunMigrations(context.Background(), db))

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, len(GetMigrations()), applied)
}

func TestIntegration_ResolveAndAuthorize(t *testing.T) {
	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	resolver := NewResolver(store)
	gate := NewGate(store)
	ctx := context.Background()

	userID := insertIntegrationUser(t, db, "alice", false)
	viewers := &Role{Name: "viewers"}
	operators := &Role{Name: "operators"}
	require.NoError(t, store.CreateRole(ctx, viewers))
	require.NoError(t, store.CreateRole(ctx, operators))

	require.NoError(t, store.UpsertPermission(ctx, &RoleJobPermission{RoleID: viewers.ID, JobID: 42, CanView: true}))
	require.NoError(t, store.UpsertPermission(ctx, &RoleJobPermission{RoleID: operators.ID, JobID: 42, CanExecute: true}))
	require.NoError(t, store.AssignRole(ctx, userID, viewers.ID, nil))
	require.NoError(t, store.AssignRole(ctx, userID, operators.ID, nil))

	up, err := resolver.Resolve(ctx, userID)
	require.NoError(t, err)
	p, ok := up.Find(42)
	require.True(t, ok)
	assert.True(t, p.CanView)
	assert.True(t, p.CanExecute)
	assert.False(t, p.CanEdit)

	allowed, err := gate.Authorize(ctx, userID, 42, PermissionExecute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = gate.Authorize(ctx, userID, 42, PermissionEdit)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestIntegration_ReplaceRolePermissionsAtomic(t *testing.T) {
	db, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store := NewStore(db)
	ctx := context.Background()

	role := &Role{Name: "operators"}
	require.NoError(t, store.CreateRole(ctx, role))
	require.NoError(t, store.UpsertPermission(ctx, &RoleJobPermission{RoleID: role.ID, JobID: 1, CanView: true}))

	// A replace that fails mid-batch must leave the original set intact.
	// Cancel the context after the transaction begins work.
	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := store.ReplaceRolePermissions(cancelCtx, role.ID, []RoleJobPermission{
		{JobID: 2, CanView: true},
		{JobID: 3, CanView: true},
	})
	require.Error(t, err)

	perms, err := store.ListRolePermissions(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, int64(1), perms[0].JobID)

	// A successful replace swaps the whole set
	require.NoError(t, store.ReplaceRolePermissions(ctx, role.ID, []RoleJobPermission{
		{JobID: 2, CanView: true},
		{JobID: 3, CanView: true, CanExecute: true},
	}))

	perms, err = store.ListRolePermissions(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, int64(2), perms[0].JobID)
	assert.Equal(t, int64(3), perms[1].JobID)
}
