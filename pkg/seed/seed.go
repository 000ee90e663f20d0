// Package seed initializes an empty database with a default admin
// account and a starter set of roles.
package seed

import (
	"context"
	"fmt"

	"github.com/jobgate/jobgate/pkg/config"
	"github.com/jobgate/jobgate/pkg/observability"
	"github.com/jobgate/jobgate/pkg/rbac"
	"github.com/jobgate/jobgate/pkg/users"
)

// Seeder creates first-boot data. It only ever acts on an empty users
// table, so a populated deployment is never touched.
type Seeder struct {
	users  *users.Store
	roles  *rbac.Store
	logger *observability.Logger
}

// NewSeeder creates a new seeder
func NewSeeder(userStore *users.Store, roleStore *rbac.Store, logger *observability.Logger) *Seeder {
	return &Seeder{
		users:  userStore,
		roles:  roleStore,
		logger: logger,
	}
}

// Run seeds the database if it is empty. Disabled config is a no-op.
func (s *Seeder) Run(ctx context.Context, cfg config.SeedConfig) error {
	if !cfg.Enabled {
		s.logger.Debug("seeding disabled by configuration")
		return nil
	}

	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		s.logger.WithField("users", count).Debug("database already populated, skipping seeding")
		return nil
	}

	admin := &rbac.User{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		IsAdmin:  true,
		IsActive: true,
	}
	if err := s.users.CreateUser(ctx, admin, cfg.AdminPassword); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"username": cfg.AdminUsername,
		"user_id":  admin.ID,
	}).Warn("created default admin account, change its password after first login")

	if err := s.seedDefaultRoles(ctx); err != nil {
		return err
	}

	s.logger.Info("database seeding completed")
	return nil
}

func (s *Seeder) seedDefaultRoles(ctx context.Context) error {
	existing, err := s.roles.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list roles: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	defaults := []rbac.Role{
		{Name: "Admin", Description: "Full system access with all permissions"},
		{Name: "Developer", Description: "Can view and execute jobs"},
		{Name: "Viewer", Description: "Read-only access to view jobs"},
	}

	for i := range defaults {
		if err := s.roles.CreateRole(ctx, &defaults[i]); err != nil {
			return fmt.Errorf("failed to create role %q: %w", defaults[i].Name, err)
		}
		s.logger.WithField("role", defaults[i].Name).Info("created default role")
	}

	return nil
}
