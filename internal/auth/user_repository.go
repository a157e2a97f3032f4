package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRepository persists accounts. Methods that change
// authorisation-relevant state (password, email, lock, delete) rotate
// the security stamp so outstanding access tokens stop validating.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	// GetByUsername only returns active accounts; soft-deleted users
	// are invisible to login.
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Count(ctx context.Context) (int, error)
	UpdateProfile(ctx context.Context, id, displayName, updatedBy string) error
	UpdatePassword(ctx context.Context, id, passwordHash, newStamp, updatedBy string) error
	UpdateEmail(ctx context.Context, id, email, newStamp, updatedBy string) error
	SetLocked(ctx context.Context, id string, locked bool, newStamp, updatedBy string) error
	RecordLoginFailure(ctx context.Context, id string, failures int, lockoutUntil *time.Time) error
	ResetLoginFailures(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id, newStamp, deletedBy string) error
}

// SQLiteUserRepository implements UserRepository on the users table.
type SQLiteUserRepository struct {
	db *sql.DB
}

func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = `id, username, display_name, email, password_hash, security_stamp,
	locked, failed_logins, lockout_until, state, created_by, updated_by,
	created_at, updated_at, deleted_at`

func (r *SQLiteUserRepository) Create(ctx context.Context, u *User) error {
	if !ValidUsername(u.Username) {
		return fmt.Errorf("username %q is not valid", u.Username)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.SecurityStamp == "" {
		u.SecurityStamp = uuid.NewString()
	}
	if u.State == "" {
		u.State = StateActive
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, email, password_hash, security_stamp,
			locked, failed_logins, lockout_until, state, created_by, updated_by,
			created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		u.ID, u.Username, u.DisplayName, u.Email, u.PasswordHash, u.SecurityStamp,
		boolToInt(u.Locked), u.FailedLogins, nullTime(u.LockoutUntil), string(u.State),
		nullString(u.CreatedBy), nullString(u.UpdatedBy),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? AND state = 'active'`, username)
	return scanUser(row)
}

func (r *SQLiteUserRepository) List(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE state = 'active' ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE state = 'active'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func (r *SQLiteUserRepository) UpdateProfile(ctx context.Context, id, displayName, updatedBy string) error {
	return r.update(ctx, `
		UPDATE users SET display_name = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		displayName, nullString(updatedBy), nowRFC3339(), id)
}

func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash, newStamp, updatedBy string) error {
	return r.update(ctx, `
		UPDATE users SET password_hash = ?, security_stamp = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		passwordHash, newStamp, nullString(updatedBy), nowRFC3339(), id)
}

func (r *SQLiteUserRepository) UpdateEmail(ctx context.Context, id, email, newStamp, updatedBy string) error {
	return r.update(ctx, `
		UPDATE users SET email = ?, security_stamp = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		email, newStamp, nullString(updatedBy), nowRFC3339(), id)
}

func (r *SQLiteUserRepository) SetLocked(ctx context.Context, id string, locked bool, newStamp, updatedBy string) error {
	return r.update(ctx, `
		UPDATE users SET locked = ?, security_stamp = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		boolToInt(locked), newStamp, nullString(updatedBy), nowRFC3339(), id)
}

func (r *SQLiteUserRepository) RecordLoginFailure(ctx context.Context, id string, failures int, lockoutUntil *time.Time) error {
	return r.update(ctx, `
		UPDATE users SET failed_logins = ?, lockout_until = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		failures, nullTime(lockoutUntil), nowRFC3339(), id)
}

func (r *SQLiteUserRepository) ResetLoginFailures(ctx context.Context, id string) error {
	return r.update(ctx, `
		UPDATE users SET failed_logins = 0, lockout_until = NULL, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		nowRFC3339(), id)
}

func (r *SQLiteUserRepository) SoftDelete(ctx context.Context, id, newStamp, deletedBy string) error {
	return r.update(ctx, `
		UPDATE users SET state = 'deleted', security_stamp = ?, deleted_at = ?,
			updated_by = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		newStamp, nowRFC3339(), nullString(deletedBy), nowRFC3339(), id)
}

func (r *SQLiteUserRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var locked int
	var email, lockoutUntil, createdBy, updatedBy, deletedAt sql.NullString
	var state, createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &email, &u.PasswordHash, &u.SecurityStamp,
		&locked, &u.FailedLogins, &lockoutUntil, &state, &createdBy, &updatedBy,
		&createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Locked = locked != 0
	u.Email = email.String
	u.State = LifecycleState(state)
	u.CreatedBy = createdBy.String
	u.UpdatedBy = updatedBy.String

	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if u.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if u.LockoutUntil, err = parseNullTime(lockoutUntil); err != nil {
		return nil, fmt.Errorf("parsing lockout_until: %w", err)
	}
	if u.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, fmt.Errorf("parsing deleted_at: %w", err)
	}
	return &u, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
