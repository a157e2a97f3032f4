package auth

import (
	"regexp"
	"time"
)

// LifecycleState tracks whether a user record is live or soft-deleted.
// Deleted users stay in the table for audit trails but never
// authenticate again.
type LifecycleState string

const (
	StateActive  LifecycleState = "active"
	StateDeleted LifecycleState = "deleted"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,63}$`)

// ValidUsername reports whether name is acceptable as a login name:
// lowercase alphanumeric start, then letters, digits, dots, hyphens or
// underscores, 3 to 64 characters total.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// User is an account row. PasswordHash and SecurityStamp never leave
// the service layer; the json tags are belt and braces for anyone who
// serialises a User directly.
type User struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	DisplayName  string         `json:"display_name"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"-"`
	// SecurityStamp changes whenever the account's credentials or
	// authorisation-relevant state change. Access tokens embed the
	// stamp at issue time; a mismatch at validation time means the
	// token predates the change and must be rejected.
	SecurityStamp string         `json:"-"`
	Locked        bool           `json:"locked"`
	FailedLogins  int            `json:"-"`
	LockoutUntil  *time.Time     `json:"-"`
	State         LifecycleState `json:"state"`
	CreatedBy     string         `json:"created_by,omitempty"`
	UpdatedBy     string         `json:"updated_by,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// CanAuthenticate reports whether the account may currently log in.
// Lockout windows are checked separately because they expire on their
// own, unlike an administrative lock.
func (u *User) CanAuthenticate(now time.Time) bool {
	if u.State != StateActive || u.Locked {
		return false
	}
	if u.LockoutUntil != nil && now.Before(*u.LockoutUntil) {
		return false
	}
	return true
}

// Role is a named grant bundle. System roles (the built-in rank
// hierarchy) cannot be deleted or renamed.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
}

// RefreshTokenRecord is the stored form of a refresh token. Only the
// SHA-256 hash of the raw value is persisted; the raw value is shown
// to the client exactly once at issue time.
type RefreshTokenRecord struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// FamilyID ties the refresh token to the access token issued
	// alongside it (the access token's jti), so audit entries can
	// reconstruct which session a replayed token belonged to.
	FamilyID    string    `json:"family_id"`
	TokenHash   string    `json:"-"`
	Used        bool      `json:"used"`
	Invalidated bool      `json:"invalidated"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Live reports whether the record could still be rotated at the given
// instant. A dead record is not necessarily an attack; Used plus a
// second presentation is.
func (r *RefreshTokenRecord) Live(now time.Time) bool {
	return !r.Used && !r.Invalidated && now.Before(r.ExpiresAt)
}
