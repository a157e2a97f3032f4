package auth

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marldon/gatehouse-core/internal/infrastructure/database"
	_ "github.com/marldon/gatehouse-core/migrations"
)

// testDB opens a temporary database and applies the embedded
// migrations, so tests run against the same schema production does.
// Open uses a single connection, same as production, so concurrent
// writers queue instead of hitting SQLITE_BUSY.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gatehouse-test.db")
	db, err := database.Open(t.Context(), database.Config{
		Path:        path,
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

const testPassword = "test-password"

// seedTestUser inserts an active user holding the named roles,
// creating any role that does not exist yet.
func seedTestUser(t *testing.T, db *sql.DB, username string, roles ...string) *User {
	t.Helper()

	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	users := NewSQLiteUserRepository(db)
	user := &User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
	}
	if err := users.Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}

	roleRepo := NewSQLiteRoleRepository(db)
	for _, name := range roles {
		role := seedTestRole(t, db, name)
		if err := roleRepo.Assign(t.Context(), user.ID, role.ID, ""); err != nil {
			t.Fatalf("assigning role %s to %s: %v", name, username, err)
		}
	}
	return user
}

// seedTestRole returns the named role, creating it if needed.
func seedTestRole(t *testing.T, db *sql.DB, name string) *Role {
	t.Helper()

	repo := NewSQLiteRoleRepository(db)
	role, err := repo.GetByName(t.Context(), name)
	if err == nil {
		return role
	}
	role = &Role{Name: name, IsSystem: RankOf(name) != RankNone}
	if err := repo.Create(t.Context(), role); err != nil {
		t.Fatalf("creating test role %s: %v", name, err)
	}
	return role
}

const testSecret = "test-secret-test-secret-test-secret!"

func testIssuer() *TokenIssuer {
	return NewTokenIssuer(testSecret, "gatehouse", "gatehouse-clients", 10*time.Minute, 7*24*time.Hour)
}

// newTestService wires a Service over the test database with quiet
// logging and no event or metrics sinks.
func newTestService(t *testing.T, db *sql.DB) *Service {
	t.Helper()

	return NewService(ServiceConfig{
		Users:              NewSQLiteUserRepository(db),
		Roles:              NewSQLiteRoleRepository(db),
		Tokens:             NewSQLiteTokenStore(db),
		Issuer:             testIssuer(),
		Logger:             slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		CacheTTL:           time.Minute,
		CacheMaxEntries:    128,
		LockoutMaxFailures: 3,
		LockoutWindow:      15 * time.Minute,
	})
}
