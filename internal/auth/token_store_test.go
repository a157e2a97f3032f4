package auth

import (
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"
)

func insertTestToken(t *testing.T, db *sql.DB, userID string, mutate func(*RefreshTokenRecord)) (string, *RefreshTokenRecord) {
	t.Helper()

	raw, err := NewRefreshTokenValue()
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	rec := &RefreshTokenRecord{
		ID:        "tok-" + raw[:8],
		UserID:    userID,
		FamilyID:  "fam-" + raw[:8],
		TokenHash: HashToken(raw),
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	if mutate != nil {
		mutate(rec)
	}
	if err := NewSQLiteTokenStore(db).Insert(t.Context(), rec); err != nil {
		t.Fatalf("inserting token: %v", err)
	}
	return raw, rec
}

func TestTokenStore_InsertAndFind(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "alice")
	store := NewSQLiteTokenStore(db)

	raw, rec := insertTestToken(t, db, user.ID, nil)

	found, err := store.FindByValue(t.Context(), raw)
	if err != nil {
		t.Fatalf("FindByValue: %v", err)
	}
	if found.ID != rec.ID || found.UserID != user.ID || found.FamilyID != rec.FamilyID {
		t.Errorf("found %+v, want record %s for user %s", found, rec.ID, user.ID)
	}
	if found.Used || found.Invalidated {
		t.Error("fresh record should be unused and valid")
	}
}

func TestTokenStore_FindUnknownValue(t *testing.T) {
	db := testDB(t)
	store := NewSQLiteTokenStore(db)

	_, err := store.FindByValue(t.Context(), "never-issued")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("got %v, want ErrTokenNotFound", err)
	}
}

func TestTokenStore_TryMarkUsed(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "alice")
	store := NewSQLiteTokenStore(db)
	raw, rec := insertTestToken(t, db, user.ID, nil)

	won, err := store.TryMarkUsed(t.Context(), rec.ID)
	if err != nil {
		t.Fatalf("TryMarkUsed: %v", err)
	}
	if !won {
		t.Fatal("first TryMarkUsed should win")
	}

	won, err = store.TryMarkUsed(t.Context(), rec.ID)
	if err != nil {
		t.Fatalf("TryMarkUsed: %v", err)
	}
	if won {
		t.Error("second TryMarkUsed should lose")
	}

	found, err := store.FindByValue(t.Context(), raw)
	if err != nil {
		t.Fatalf("FindByValue: %v", err)
	}
	if !found.Used {
		t.Error("record not marked used")
	}
}

// Exactly one of N concurrent claimants may win TryMarkUsed; every
// loser is a potential replay.
func TestTokenStore_TryMarkUsedConcurrent(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "alice")
	store := NewSQLiteTokenStore(db)
	_, rec := insertTestToken(t, db, user.ID, nil)

	const claimants = 16
	var wg sync.WaitGroup
	wins := make(chan bool, claimants)

	for range claimants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.TryMarkUsed(t.Context(), rec.ID)
			if err != nil {
				t.Errorf("TryMarkUsed: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("%d claimants won, want exactly 1", winners)
	}
}

func TestTokenStore_Invalidate(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "alice")
	store := NewSQLiteTokenStore(db)
	raw, rec := insertTestToken(t, db, user.ID, nil)

	if err := store.Invalidate(t.Context(), rec.ID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	found, err := store.FindByValue(t.Context(), raw)
	if err != nil {
		t.Fatalf("FindByValue: %v", err)
	}
	if !found.Invalidated {
		t.Error("record not invalidated")
	}
}

func TestTokenStore_InvalidateAllForUser(t *testing.T) {
	db := testDB(t)
	alice := seedTestUser(t, db, "alice")
	bob := seedTestUser(t, db, "bob")
	store := NewSQLiteTokenStore(db)

	insertTestToken(t, db, alice.ID, nil)
	insertTestToken(t, db, alice.ID, nil)
	bobRaw, _ := insertTestToken(t, db, bob.ID, nil)

	if err := store.InvalidateAllForUser(t.Context(), alice.ID); err != nil {
		t.Fatalf("InvalidateAllForUser: %v", err)
	}

	n, err := store.CountLiveForUser(t.Context(), alice.ID)
	if err != nil {
		t.Fatalf("CountLiveForUser: %v", err)
	}
	if n != 0 {
		t.Errorf("alice still holds %d live tokens, want 0", n)
	}

	// Bob's session is untouched.
	found, err := store.FindByValue(t.Context(), bobRaw)
	if err != nil {
		t.Fatalf("FindByValue: %v", err)
	}
	if found.Invalidated {
		t.Error("invalidation leaked to another user")
	}
}

func TestTokenStore_ListLiveForUser(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "alice")
	store := NewSQLiteTokenStore(db)

	insertTestToken(t, db, user.ID, nil)
	insertTestToken(t, db, user.ID, func(r *RefreshTokenRecord) { r.Used = true })
	insertTestToken(t, db, user.ID, func(r *RefreshTokenRecord) { r.Invalidated = true })
	insertTestToken(t, db, user.ID, func(r *RefreshTokenRecord) {
		r.ExpiresAt = time.Now().Add(-time.Minute)
	})

	live, err := store.ListLiveForUser(t.Context(), user.ID)
	if err != nil {
		t.Fatalf("ListLiveForUser: %v", err)
	}
	if len(live) != 1 {
		t.Errorf("listed %d live tokens, want 1", len(live))
	}
}

func TestTokenStore_DeleteExpired(t *testing.T) {
	db := testDB(t)
	user := seedTestUser(t, db, "alice")
	store := NewSQLiteTokenStore(db)

	keepRaw, _ := insertTestToken(t, db, user.ID, nil)
	insertTestToken(t, db, user.ID, func(r *RefreshTokenRecord) {
		r.ExpiresAt = time.Now().Add(-time.Hour)
	})
	insertTestToken(t, db, user.ID, func(r *RefreshTokenRecord) {
		r.ExpiresAt = time.Now().Add(-time.Minute)
	})

	n, err := store.DeleteExpired(t.Context(), time.Now())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d rows, want 2", n)
	}
	if _, err := store.FindByValue(t.Context(), keepRaw); err != nil {
		t.Errorf("live token removed by purge: %v", err)
	}
}
