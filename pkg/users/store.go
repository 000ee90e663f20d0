package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jobgate/jobgate/pkg/rbac"
)

// Store handles user account persistence. Passwords are stored as bcrypt
// hashes and never leave this package in clear text.
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser creates an account with a hashed password. Returns
// rbac.ErrConflict when the username or email is taken.
func (s *Store) CreateUser(ctx context.Context, user *rbac.User, password string) error {
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE username = $1 OR email = $2`,
		user.Username, user.Email).Scan(&existing)
	if err == nil {
		return fmt.Errorf("username or email already in use: %w", rbac.ErrConflict)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check user uniqueness: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, is_admin, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, user.Username, user.Email, string(hash), user.IsAdmin, user.IsActive, now, now).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.PasswordHash = string(hash)
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID int64) (*rbac.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*rbac.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *Store) getUser(ctx context.Context, where string, arg interface{}) (*rbac.User, error) {
	var user rbac.User
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, is_admin, is_active, last_login_at, created_at, updated_at
		FROM users `+where,
		arg).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.IsAdmin, &user.IsActive, &lastLogin, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user: %w", rbac.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return &user, nil
}

// ListUsers returns all users ordered by username
func (s *Store) ListUsers(ctx context.Context) ([]rbac.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, password_hash, is_admin, is_active, last_login_at, created_at, updated_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []rbac.User
	for rows.Next() {
		var user rbac.User
		var lastLogin sql.NullTime
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
			&user.IsAdmin, &user.IsActive, &lastLogin, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if lastLogin.Valid {
			t := lastLogin.Time
			user.LastLoginAt = &t
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// CountUsers returns the total number of accounts
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// UpdateUser updates email and admin flag. Username is immutable.
func (s *Store) UpdateUser(ctx context.Context, user *rbac.User) error {
	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE email = $1 AND id <> $2`, user.Email, user.ID).Scan(&existing)
	if err == nil {
		return fmt.Errorf("email already in use: %w", rbac.ErrConflict)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check email: %w", err)
	}

	user.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = $1, is_admin = $2, updated_at = $3 WHERE id = $4
	`, user.Email, user.IsAdmin, user.UpdatedAt, user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	return checkAffected(result, user.ID)
}

// SetActive activates or deactivates an account. Deactivated users fail
// every authorization check until reactivated.
func (s *Store) SetActive(ctx context.Context, userID int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to set active flag: %w", err)
	}

	return checkAffected(result, userID)
}

// SetPassword replaces the password hash
func (s *Store) SetPassword(ctx context.Context, userID int64, password string) error {
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		string(hash), time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}

	return checkAffected(result, userID)
}

// TouchLastLogin records a successful login time
func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1 WHERE id = $2`, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}

	return checkAffected(result, userID)
}

// Authenticate checks username and password. Returns rbac.ErrNotFound for
// an unknown username or wrong password so callers cannot tell the two
// apart. Inactive accounts fail the same way.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*rbac.User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, fmt.Errorf("account disabled: %w", rbac.ErrNotFound)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", rbac.ErrNotFound)
	}

	return user, nil
}

func checkAffected(result sql.Result, userID int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %d: %w", userID, rbac.ErrNotFound)
	}
	return nil
}
