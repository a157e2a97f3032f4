package auth

import (
	"errors"
	"testing"
	"time"
)

func loginAs(t *testing.T, svc *Service, username string) *IssuedPair {
	t.Helper()
	pair, err := svc.Login(t.Context(), username, testPassword, "test")
	if err != nil {
		t.Fatalf("login as %s: %v", username, err)
	}
	return pair
}

func TestRotate_HappyPath(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db)
	seedTestUser(t, db, "alice", RoleUser)

	first := loginAs(t, svc, "alice")
	second, err := svc.Rotate(t.Context(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if second.RefreshToken == first.RefreshToken {
		t.Error("rotation returned the same refresh token")
	}
	if second.AccessTokenID == first.AccessTokenID {
		t.Error("rotation returned the same access token id")
	}
	if _, err := svc.ValidateAccess(t.Context(), second.AccessToken); err != nil {
		t.Errorf("new access token does not validate: %v", err)
	}

	// The chain continues from the new token.
	third, err := svc.Rotate(t.Context(), second.RefreshToken)
	if err != nil {
		t.Fatalf("second Rotate: %v", err)
	}
	if third.Record.UserID != first.Record.UserID {
		t.Error("chain switched users")
	}
}

// A replayed refresh token proves the value exists in two places. The
// whole session population for the owner is destroyed before the
// error comes back, so neither holder keeps access.
func TestRotate_ReplayCascade(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db)
	seedTestUser(t, db, "alice", RoleUser)

	stolen := loginAs(t, svc, "alice")

	// Legitimate client rotates; the stolen value is now used.
	current, err := svc.Rotate(t.Context(), stolen.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Attacker replays the old value.
	_, err = svc.Rotate(t.Context(), stolen.RefreshToken)
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("replay: got %v, want ErrTokenReused", err)
	}

	// The cascade must already have run: the legitimate client's
	// current token is dead too.
	_, err = svc.Rotate(t.Context(), current.RefreshToken)
	if !errors.Is(err, ErrTokenInvalidated) {
		t.Errorf("post-cascade rotation: got %v, want ErrTokenInvalidated", err)
	}

	// Both parties are back to login, and login works.
	if _, err := svc.Login(t.Context(), "alice", testPassword, "test"); err != nil {
		t.Errorf("login after cascade: %v", err)
	}
}

func TestRotate_MissingToken(t *testing.T) {
	svc := newTestService(t, testDB(t))
	if _, err := svc.Rotate(t.Context(), ""); !errors.Is(err, ErrTokenMissing) {
		t.Errorf("got %v, want ErrTokenMissing", err)
	}
}

func TestRotate_UnknownToken(t *testing.T) {
	svc := newTestService(t, testDB(t))
	if _, err := svc.Rotate(t.Context(), "never-issued"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("got %v, want ErrTokenNotFound", err)
	}
}

func TestRotate_InvalidatedToken(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db)
	seedTestUser(t, db, "alice", RoleUser)

	pair := loginAs(t, svc, "alice")
	if err := svc.Logout(t.Context(), pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := svc.Rotate(t.Context(), pair.RefreshToken); !errors.Is(err, ErrTokenInvalidated) {
		t.Errorf("got %v, want ErrTokenInvalidated", err)
	}
}

func TestRotate_ExpiredToken(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db)
	user := seedTestUser(t, db, "alice", RoleUser)

	raw, _ := insertTestToken(t, db, user.ID, func(r *RefreshTokenRecord) {
		r.ExpiresAt = time.Now().Add(-time.Minute)
	})

	if _, err := svc.Rotate(t.Context(), raw); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("got %v, want ErrTokenExpired", err)
	}
}

func TestRotate_DeletedOwner(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db)
	user := seedTestUser(t, db, "alice", RoleUser)

	pair := loginAs(t, svc, "alice")
	if err := NewSQLiteUserRepository(db).SoftDelete(t.Context(), user.ID, "stamp-x", ""); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	if _, err := svc.Rotate(t.Context(), pair.RefreshToken); !errors.Is(err, ErrTokenUserNotFound) {
		t.Fatalf("got %v, want ErrTokenUserNotFound", err)
	}

	// The orphaned token was consumed on the way out.
	rec, err := NewSQLiteTokenStore(db).FindByValue(t.Context(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("FindByValue: %v", err)
	}
	if !rec.Invalidated {
		t.Error("orphaned token left presentable")
	}
}

func TestRotate_LockedOwner(t *testing.T) {
	db := testDB(t)
	svc := newTestService(t, db)
	user := seedTestUser(t, db, "alice", RoleUser)

	pair := loginAs(t, svc, "alice")
	if err := NewSQLiteUserRepository(db).SetLocked(t.Context(), user.ID, true, "stamp-x", ""); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}

	if _, err := svc.Rotate(t.Context(), pair.RefreshToken); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("got %v, want ErrAccountLocked", err)
	}
}
