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

// RoleRepository persists roles, memberships and permission claims.
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, id string) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	// Delete removes a non-system role along with its memberships and
	// claims (both cascade at the schema level).
	Delete(ctx context.Context, id string) error

	Assign(ctx context.Context, userID, roleID, assignedBy string) error
	Remove(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]*Role, error)
	CountForUser(ctx context.Context, userID string) (int, error)
	MembersOfRole(ctx context.Context, roleID string) ([]string, error)

	ClaimsForRole(ctx context.Context, roleID string) ([]Permission, error)
	// ClaimsForUser returns the union of claims across the user's
	// roles, deduplicated, in catalog-independent sorted order.
	ClaimsForUser(ctx context.Context, userID string) ([]Permission, error)
	SetClaims(ctx context.Context, roleID string, claims []Permission) error
}

// SQLiteRoleRepository implements RoleRepository on the roles,
// user_roles and role_claims tables.
type SQLiteRoleRepository struct {
	db *sql.DB
}

func NewSQLiteRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

func (r *SQLiteRoleRepository) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	role.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, is_system, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		role.ID, role.Name, role.Description, boolToInt(role.IsSystem),
		role.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRoleExists
		}
		return fmt.Errorf("creating role: %w", err)
	}
	return nil
}

func (r *SQLiteRoleRepository) GetByID(ctx context.Context, id string) (*Role, error) {
	return r.getRole(ctx, `WHERE id = ?`, id)
}

func (r *SQLiteRoleRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	return r.getRole(ctx, `WHERE name = ?`, name)
}

func (r *SQLiteRoleRepository) getRole(ctx context.Context, where string, arg any) (*Role, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_system, created_at FROM roles `+where, arg)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up role: %w", err)
	}
	return role, nil
}

func (r *SQLiteRoleRepository) List(ctx context.Context) ([]*Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, is_system, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

func (r *SQLiteRoleRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM roles WHERE id = ? AND is_system = 0`, id)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	if n == 0 {
		return ErrRoleNotFound
	}
	return nil
}

func (r *SQLiteRoleRepository) Assign(ctx context.Context, userID, roleID, assignedBy string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_roles (user_id, role_id, created_by, created_at)
		VALUES (?, ?, ?, ?)`,
		userID, roleID, nullString(assignedBy), nowRFC3339())
	if err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}
	return nil
}

func (r *SQLiteRoleRepository) Remove(ctx context.Context, userID, roleID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`, userID, roleID)
	if err != nil {
		return fmt.Errorf("removing role: %w", err)
	}
	return nil
}

func (r *SQLiteRoleRepository) RolesForUser(ctx context.Context, userID string) ([]*Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.is_system, r.created_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ?
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing roles for user: %w", err)
	}
	defer rows.Close()
	return collectRoles(rows)
}

func (r *SQLiteRoleRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_roles WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting roles for user: %w", err)
	}
	return n, nil
}

func (r *SQLiteRoleRepository) MembersOfRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM user_roles WHERE role_id = ?`, roleID)
	if err != nil {
		return nil, fmt.Errorf("listing role members: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("listing role members: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *SQLiteRoleRepository) ClaimsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT permission_value FROM role_claims
		WHERE role_id = ? ORDER BY permission_value`, roleID)
	if err != nil {
		return nil, fmt.Errorf("listing role claims: %w", err)
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (r *SQLiteRoleRepository) ClaimsForUser(ctx context.Context, userID string) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT rc.permission_value
		FROM role_claims rc
		JOIN user_roles ur ON ur.role_id = rc.role_id
		WHERE ur.user_id = ?
		ORDER BY rc.permission_value`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user claims: %w", err)
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// SetClaims replaces the role's claim set in one transaction so
// readers never observe a half-updated set.
func (r *SQLiteRoleRepository) SetClaims(ctx context.Context, roleID string, claims []Permission) error {
	for _, c := range claims {
		if !KnownPermission(c) {
			return fmt.Errorf("%w: %q", ErrPermissionUnknown, c)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("setting role claims: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM role_claims WHERE role_id = ?`, roleID); err != nil {
		return fmt.Errorf("setting role claims: %w", err)
	}
	for _, c := range claims {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_claims (role_id, permission_value) VALUES (?, ?)`,
			roleID, string(c)); err != nil {
			return fmt.Errorf("setting role claims: %w", err)
		}
	}
	return tx.Commit()
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var description sql.NullString
	var isSystem int
	var createdAt string
	if err := row.Scan(&role.ID, &role.Name, &description, &isSystem, &createdAt); err != nil {
		return nil, err
	}
	role.Description = description.String
	role.IsSystem = isSystem != 0
	var err error
	if role.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &role, nil
}

func collectRoles(rows *sql.Rows) ([]*Role, error) {
	var out []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func collectPermissions(rows *sql.Rows) ([]Permission, error) {
	var out []Permission
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}
		out = append(out, Permission(v))
	}
	return out, rows.Err()
}
