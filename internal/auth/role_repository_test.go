package auth

import (
	"errors"
	"testing"
)

func TestRoleRepository_CreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRoleRepository(db)

	role := &Role{Name: "Auditors", Description: "Read-only reviewers"}
	if err := repo.Create(t.Context(), role); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByName(t.Context(), "Auditors")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got.ID != role.ID || got.Description != "Read-only reviewers" || got.IsSystem {
		t.Errorf("got %+v, want custom Auditors role", got)
	}

	if err := repo.Create(t.Context(), &Role{Name: "Auditors"}); !errors.Is(err, ErrRoleExists) {
		t.Errorf("duplicate Create: got %v, want ErrRoleExists", err)
	}
	if _, err := repo.GetByName(t.Context(), "Nobody"); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("missing GetByName: got %v, want ErrRoleNotFound", err)
	}
}

func TestRoleRepository_AssignRemove(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRoleRepository(db)
	user := seedTestUser(t, db, "alice", RoleUser)
	auditors := seedTestRole(t, db, "Auditors")

	if err := repo.Assign(t.Context(), user.ID, auditors.ID, "admin-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	// Assigning twice is a no-op, not an error.
	if err := repo.Assign(t.Context(), user.ID, auditors.ID, "admin-1"); err != nil {
		t.Fatalf("repeat Assign: %v", err)
	}

	roles, err := repo.RolesForUser(t.Context(), user.ID)
	if err != nil {
		t.Fatalf("RolesForUser: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("user holds %d roles, want 2", len(roles))
	}

	n, err := repo.CountForUser(t.Context(), user.ID)
	if err != nil {
		t.Fatalf("CountForUser: %v", err)
	}
	if n != 2 {
		t.Errorf("CountForUser = %d, want 2", n)
	}

	if err := repo.Remove(t.Context(), user.ID, auditors.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	n, err = repo.CountForUser(t.Context(), user.ID)
	if err != nil {
		t.Fatalf("CountForUser: %v", err)
	}
	if n != 1 {
		t.Errorf("CountForUser after removal = %d, want 1", n)
	}
}

func TestRoleRepository_Claims(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRoleRepository(db)
	role := seedTestRole(t, db, "Auditors")

	set := []Permission{PermAuditView, PermUsersView}
	if err := repo.SetClaims(t.Context(), role.ID, set); err != nil {
		t.Fatalf("SetClaims: %v", err)
	}

	claims, err := repo.ClaimsForRole(t.Context(), role.ID)
	if err != nil {
		t.Fatalf("ClaimsForRole: %v", err)
	}
	if len(claims) != 2 {
		t.Errorf("role carries %d claims, want 2", len(claims))
	}

	// Replacement, not accumulation.
	if err := repo.SetClaims(t.Context(), role.ID, []Permission{PermAuditView}); err != nil {
		t.Fatalf("SetClaims: %v", err)
	}
	claims, err = repo.ClaimsForRole(t.Context(), role.ID)
	if err != nil {
		t.Fatalf("ClaimsForRole: %v", err)
	}
	if len(claims) != 1 || claims[0] != PermAuditView {
		t.Errorf("claims after replacement = %v, want [audit.view]", claims)
	}
}

func TestRoleRepository_SetClaimsRejectsUnknown(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRoleRepository(db)
	role := seedTestRole(t, db, "Auditors")

	err := repo.SetClaims(t.Context(), role.ID, []Permission{PermAuditView, "users.explode"})
	if !errors.Is(err, ErrPermissionUnknown) {
		t.Errorf("got %v, want ErrPermissionUnknown", err)
	}
	// The valid claim must not have been written either.
	claims, err := repo.ClaimsForRole(t.Context(), role.ID)
	if err != nil {
		t.Fatalf("ClaimsForRole: %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("partial claim write: %v", claims)
	}
}

func TestRoleRepository_ClaimsForUserUnion(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRoleRepository(db)
	user := seedTestUser(t, db, "alice", "Auditors", "Operators")

	auditors, _ := repo.GetByName(t.Context(), "Auditors")
	operators, _ := repo.GetByName(t.Context(), "Operators")
	if err := repo.SetClaims(t.Context(), auditors.ID, []Permission{PermAuditView, PermUsersView}); err != nil {
		t.Fatalf("SetClaims: %v", err)
	}
	if err := repo.SetClaims(t.Context(), operators.ID, []Permission{PermUsersView, PermSessionsView}); err != nil {
		t.Fatalf("SetClaims: %v", err)
	}

	claims, err := repo.ClaimsForUser(t.Context(), user.ID)
	if err != nil {
		t.Fatalf("ClaimsForUser: %v", err)
	}
	// users.view appears in both roles but only once in the union.
	if len(claims) != 3 {
		t.Errorf("union has %d claims, want 3: %v", len(claims), claims)
	}
}

func TestRoleRepository_DeleteSystemRoleRefused(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRoleRepository(db)
	admin := seedTestRole(t, db, RoleAdmin)

	if err := repo.Delete(t.Context(), admin.ID); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("deleting system role: got %v, want ErrRoleNotFound", err)
	}
	if _, err := repo.GetByID(t.Context(), admin.ID); err != nil {
		t.Errorf("system role gone after refused delete: %v", err)
	}
}

func TestRoleRepository_DeleteCascades(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRoleRepository(db)
	user := seedTestUser(t, db, "alice", RoleUser, "Auditors")
	auditors, _ := repo.GetByName(t.Context(), "Auditors")
	if err := repo.SetClaims(t.Context(), auditors.ID, []Permission{PermAuditView}); err != nil {
		t.Fatalf("SetClaims: %v", err)
	}

	if err := repo.Delete(t.Context(), auditors.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	n, err := repo.CountForUser(t.Context(), user.ID)
	if err != nil {
		t.Fatalf("CountForUser: %v", err)
	}
	if n != 1 {
		t.Errorf("membership not cascaded, user holds %d roles", n)
	}
	claims, err := repo.ClaimsForUser(t.Context(), user.ID)
	if err != nil {
		t.Fatalf("ClaimsForUser: %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("claims not cascaded: %v", claims)
	}
}

func TestRoleRepository_MembersOfRole(t *testing.T) {
	db := testDB(t)
	repo := NewSQLiteRoleRepository(db)
	alice := seedTestUser(t, db, "alice", "Auditors")
	bob := seedTestUser(t, db, "bob", "Auditors")
	seedTestUser(t, db, "carol", RoleUser)
	auditors, _ := repo.GetByName(t.Context(), "Auditors")

	members, err := repo.MembersOfRole(t.Context(), auditors.ID)
	if err != nil {
		t.Fatalf("MembersOfRole: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("role has %d members, want 2", len(members))
	}
	found := map[string]bool{}
	for _, id := range members {
		found[id] = true
	}
	if !found[alice.ID] || !found[bob.ID] {
		t.Errorf("members = %v, want alice and bob", members)
	}
}
