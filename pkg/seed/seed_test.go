package seed

import (
	"context"
	"database/sql"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgate/jobgate/pkg/config"
	"github.com/jobgate/jobgate/pkg/observability"
	"github.com/jobgate/jobgate/pkg/rbac"
	"github.com/jobgate/jobgate/pkg/users"
)

func setupSeeder(t *testing.T) (*Seeder, *users.Store, *rbac.Store) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// In-memory sqlite is per-connection; keep the pool at one
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			is_admin INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	require.NoError(t, err)

	userStore := users.NewStore(db)
	roleStore := rbac.NewStore(db)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	return NewSeeder(userStore, roleStore, logger), userStore, roleStore
}

func testSeedConfig() config.SeedConfig {
	return config.SeedConfig{
		Enabled:       true,
		AdminUsername: "admin",
		AdminPassword: "admin123",
		AdminEmail:    "admin@example.com",
	}
}

func TestSeederRun(t *testing.T) {
	seeder, userStore, roleStore := setupSeeder(t)
	ctx := context.Background()

	require.NoError(t, seeder.Run(ctx, testSeedConfig()))

	admin, err := userStore.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
	assert.True(t, admin.IsActive)

	// The seeded password works
	_, err = userStore.Authenticate(ctx, "admin", "admin123")
	assert.NoError(t, err)

	roles, err := roleStore.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 3)
	names := []string{roles[0].Name, roles[1].Name, roles[2].Name}
	assert.ElementsMatch(t, []string{"Admin", "Developer", "Viewer"}, names)
}

func TestSeederRun_SkipsPopulatedDatabase(t *testing.T) {
	seeder, userStore, roleStore := setupSeeder(t)
	ctx := context.Background()

	existing := &rbac.User{Username: "alice", Email: "alice@example.com", IsActive: true}
	require.NoError(t, userStore.CreateUser(ctx, existing, "s3cret"))

	require.NoError(t, seeder.Run(ctx, testSeedConfig()))

	_, err := userStore.GetUserByUsername(ctx, "admin")
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	roles, err := roleStore.ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestSeederRun_Disabled(t *testing.T) {
	seeder, userStore, _ := setupSeeder(t)
	ctx := context.Background()

	cfg := testSeedConfig()
	cfg.Enabled = false
	require.NoError(t, seeder.Run(ctx, cfg))

	count, err := userStore.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSeederRun_Idempotent(t *testing.T) {
	seeder, userStore, roleStore := setupSeeder(t)
	ctx := context.Background()

	require.NoError(t, seeder.Run(ctx, testSeedConfig()))
	require.NoError(t, seeder.Run(ctx, testSeedConfig()))

	count, err := userStore.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	roles, err := roleStore.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 3)
}
