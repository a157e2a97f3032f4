package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RefreshTokenStore persists refresh token records. TryMarkUsed is the
// single point of concurrency control for rotation: it atomically
// claims an unused token, and exactly one concurrent caller wins.
type RefreshTokenStore interface {
	Insert(ctx context.Context, rec *RefreshTokenRecord) error
	// FindByValue hashes the raw token and looks the record up by
	// hash. Returns ErrTokenNotFound when nothing matches.
	FindByValue(ctx context.Context, raw string) (*RefreshTokenRecord, error)
	// TryMarkUsed flips used from 0 to 1 for the record, returning
	// true only if this call performed the flip.
	TryMarkUsed(ctx context.Context, id string) (bool, error)
	Invalidate(ctx context.Context, id string) error
	InvalidateAllForUser(ctx context.Context, userID string) error
	ListLiveForUser(ctx context.Context, userID string) ([]*RefreshTokenRecord, error)
	CountLiveForUser(ctx context.Context, userID string) (int, error)
	// DeleteExpired removes records past their expiry, returning how
	// many were purged. Intended for a periodic sweep.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteTokenStore implements RefreshTokenStore on the refresh_tokens
// table.
type SQLiteTokenStore struct {
	db *sql.DB
}

func NewSQLiteTokenStore(db *sql.DB) *SQLiteTokenStore {
	return &SQLiteTokenStore{db: db}
}

func (s *SQLiteTokenStore) Insert(ctx context.Context, rec *RefreshTokenRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, used, invalidated, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.FamilyID, rec.TokenHash,
		boolToInt(rec.Used), boolToInt(rec.Invalidated),
		rec.ExpiresAt.UTC().Format(time.RFC3339),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting refresh token: %w", err)
	}
	return nil
}

func (s *SQLiteTokenStore) FindByValue(ctx context.Context, raw string) (*RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, family_id, token_hash, used, invalidated, expires_at, created_at
		FROM refresh_tokens WHERE token_hash = ?`,
		HashToken(raw),
	)
	rec, err := scanTokenRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}
	return rec, nil
}

func (s *SQLiteTokenStore) TryMarkUsed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET used = 1 WHERE id = ? AND used = 0`, id)
	if err != nil {
		return false, fmt.Errorf("marking refresh token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking refresh token used: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteTokenStore) Invalidate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET invalidated = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("invalidating refresh token: %w", err)
	}
	return nil
}

func (s *SQLiteTokenStore) InvalidateAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET invalidated = 1 WHERE user_id = ? AND invalidated = 0`, userID)
	if err != nil {
		return fmt.Errorf("invalidating refresh tokens for user: %w", err)
	}
	return nil
}

func (s *SQLiteTokenStore) ListLiveForUser(ctx context.Context, userID string) ([]*RefreshTokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, family_id, token_hash, used, invalidated, expires_at, created_at
		FROM refresh_tokens
		WHERE user_id = ? AND used = 0 AND invalidated = 0 AND expires_at > ?
		ORDER BY created_at DESC`,
		userID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("listing refresh tokens: %w", err)
	}
	defer rows.Close()

	var out []*RefreshTokenRecord
	for rows.Next() {
		rec, err := scanTokenRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("listing refresh tokens: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteTokenStore) CountLiveForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM refresh_tokens
		WHERE user_id = ? AND used = 0 AND invalidated = 0 AND expires_at > ?`,
		userID, time.Now().UTC().Format(time.RFC3339),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting refresh tokens: %w", err)
	}
	return n, nil
}

func (s *SQLiteTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purging expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTokenRecord(row rowScanner) (*RefreshTokenRecord, error) {
	var rec RefreshTokenRecord
	var used, invalidated int
	var expiresAt, createdAt string
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.FamilyID, &rec.TokenHash,
		&used, &invalidated, &expiresAt, &createdAt); err != nil {
		return nil, err
	}
	rec.Used = used != 0
	rec.Invalidated = invalidated != 0

	var err error
	if rec.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
