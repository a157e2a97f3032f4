package audit

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the audit schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audit_test.db")
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE audit_logs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		actor_id TEXT,
		source TEXT NOT NULL,
		details TEXT,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	) STRICT;
	CREATE INDEX idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX idx_audit_logs_entity ON audit_logs(entity_type, entity_id);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	return db
}

func TestRecordAndList(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := t.Context()

	entry := Entry{
		Action:     ActionLogin,
		EntityType: "user",
		EntityID:   "user-1",
		ActorID:    "user-1",
		Source:     "test",
		Details:    map[string]any{"family_id": "fam-1"},
	}
	if err := repo.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(got))
	}

	e := got[0]
	if e.ID == "" {
		t.Error("ID was not generated")
	}
	if e.Action != ActionLogin {
		t.Errorf("Action = %q, want %q", e.Action, ActionLogin)
	}
	if e.EntityID != "user-1" || e.ActorID != "user-1" {
		t.Errorf("entity/actor = %q/%q, want user-1/user-1", e.EntityID, e.ActorID)
	}
	if e.Details["family_id"] != "fam-1" {
		t.Errorf("Details[family_id] = %v, want fam-1", e.Details["family_id"])
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}
}

func TestRecordDefaults(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := t.Context()

	// No ID, Source, CreatedAt or Details
	if err := repo.Record(ctx, Entry{Action: ActionLogout, EntityType: "user"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := repo.List(ctx, 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(got))
	}
	if got[0].Source != "core" {
		t.Errorf("Source = %q, want core", got[0].Source)
	}
	if got[0].Details != nil {
		t.Errorf("Details = %v, want nil", got[0].Details)
	}
}

func TestListForEntity(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := t.Context()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Action: ActionUserLocked, EntityType: "user", EntityID: "alice", ActorID: "admin", CreatedAt: base},
		{Action: ActionUserUnlocked, EntityType: "user", EntityID: "alice", ActorID: "admin", CreatedAt: base.Add(time.Minute)},
		{Action: ActionUserLocked, EntityType: "user", EntityID: "bob", ActorID: "admin", CreatedAt: base.Add(2 * time.Minute)},
		{Action: ActionRoleAssigned, EntityType: "role", EntityID: "alice", ActorID: "root", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := repo.ListForEntity(ctx, "user", "alice", 10)
	if err != nil {
		t.Fatalf("ListForEntity() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListForEntity() returned %d entries, want 2", len(got))
	}
	// Newest first
	if got[0].Action != ActionUserUnlocked || got[1].Action != ActionUserLocked {
		t.Errorf("order = %q, %q; want unlock then lock", got[0].Action, got[1].Action)
	}

	byActor, err := repo.ListForActor(ctx, "root", 10)
	if err != nil {
		t.Fatalf("ListForActor() error = %v", err)
	}
	if len(byActor) != 1 || byActor[0].Action != ActionRoleAssigned {
		t.Errorf("ListForActor(root) = %d entries, want the role assignment", len(byActor))
	}
}

func TestListLimit(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := t.Context()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := Entry{Action: ActionLogin, EntityType: "user", EntityID: "alice", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := repo.List(ctx, 3)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("List(3) returned %d entries, want 3", len(got))
	}

	// Zero limit falls back to the default rather than returning nothing
	all, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("List(0) returned %d entries, want 5", len(all))
	}
}
