// Package audit records security-relevant events to an append-only
// log. Entries are written in the same database as the state they
// describe so a successful operation and its audit row commit
// together or not at all when run inside one transaction.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known actions. Free-form actions are allowed; these constants
// just keep the common ones consistent for querying.
const (
	ActionLogin          = "auth.login"
	ActionLoginFailed    = "auth.login.failed"
	ActionTokenRotated   = "auth.token.rotated"
	ActionTokenReused    = "auth.token.reused"
	ActionLogout         = "auth.logout"
	ActionLogoutAll      = "auth.logout_all"
	ActionPasswordChange = "auth.password.changed"
	ActionEmailChange    = "auth.email.changed"
	ActionProfileChange  = "auth.profile.changed"
	ActionRoleAssigned   = "admin.role.assigned"
	ActionRoleRemoved    = "admin.role.removed"
	ActionRoleClaimsSet  = "admin.role.claims_set"
	ActionUserLocked     = "admin.user.locked"
	ActionUserUnlocked   = "admin.user.unlocked"
	ActionUserDeleted    = "admin.user.deleted"
	ActionUserCreated    = "admin.user.created"
)

// Entry is one audit row. ActorID is empty for system-initiated
// events (seeding, expiry sweeps); Details is arbitrary context
// stored as JSON.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Source     string         `json:"source,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Recorder is the write side of the log, the only part most callers
// need.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Repository reads and writes audit entries in SQLite.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record appends an entry. ID, Source and CreatedAt are filled in
// when unset.
func (r *Repository) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Source == "" {
		e.Source = "core"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		details = string(raw)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, actor_id, source, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.EntityType, e.EntityID,
		nullable(e.ActorID), e.Source, details,
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// Listing limits. Zero or negative asks for the default; nothing can
// request more than maxListLimit rows.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// List returns the most recent entries, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]*Entry, error) {
	return r.query(ctx, `
		SELECT id, action, entity_type, entity_id, actor_id, source, details, created_at
		FROM audit_logs ORDER BY created_at DESC, id LIMIT ?`, clampLimit(limit))
}

// ListForEntity returns entries touching one entity, newest first.
func (r *Repository) ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]*Entry, error) {
	return r.query(ctx, `
		SELECT id, action, entity_type, entity_id, actor_id, source, details, created_at
		FROM audit_logs WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC, id LIMIT ?`, entityType, entityID, clampLimit(limit))
}

// ListForActor returns entries initiated by one actor, newest first.
func (r *Repository) ListForActor(ctx context.Context, actorID string, limit int) ([]*Entry, error) {
	return r.query(ctx, `
		SELECT id, action, entity_type, entity_id, actor_id, source, details, created_at
		FROM audit_logs WHERE actor_id = ?
		ORDER BY created_at DESC, id LIMIT ?`, actorID, clampLimit(limit))
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var entityID, actorID, source, details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID,
			&actorID, &source, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.EntityID = entityID.String
		e.ActorID = actorID.String
		e.Source = source.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decoding audit details: %w", err)
			}
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
