package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func countingLoader(loads *atomic.Int64, stamp string) AuthStateLoader {
	return func(_ context.Context, userID string) (*AuthState, error) {
		loads.Add(1)
		return &AuthState{UserID: userID, SecurityStamp: stamp}, nil
	}
}

func TestUserAuthCache_HitAvoidsLoader(t *testing.T) {
	var loads atomic.Int64
	cache := NewUserAuthCache(16, time.Minute, countingLoader(&loads, "s1"))

	for range 5 {
		state, err := cache.Get(t.Context(), "user-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if state.UserID != "user-1" {
			t.Fatalf("got state for %s", state.UserID)
		}
	}
	if loads.Load() != 1 {
		t.Errorf("loader ran %d times, want 1", loads.Load())
	}
}

func TestUserAuthCache_AbsoluteTTL(t *testing.T) {
	var loads atomic.Int64
	cache := NewUserAuthCache(16, 30*time.Millisecond, countingLoader(&loads, "s1"))

	if _, err := cache.Get(t.Context(), "user-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := cache.Get(t.Context(), "user-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loads.Load() != 2 {
		t.Errorf("loader ran %d times, want reload after TTL", loads.Load())
	}
}

func TestUserAuthCache_InvalidateForcesReload(t *testing.T) {
	var loads atomic.Int64
	cache := NewUserAuthCache(16, time.Minute, countingLoader(&loads, "s1"))

	if _, err := cache.Get(t.Context(), "user-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	cache.Invalidate("user-1")
	if _, err := cache.Get(t.Context(), "user-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loads.Load() != 2 {
		t.Errorf("loader ran %d times, want 2 after invalidation", loads.Load())
	}
}

func TestUserAuthCache_InvalidateMany(t *testing.T) {
	var loads atomic.Int64
	cache := NewUserAuthCache(16, time.Minute, countingLoader(&loads, "s1"))

	members := []string{"user-1", "user-2", "user-3"}
	for _, id := range members {
		if _, err := cache.Get(t.Context(), id); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if _, err := cache.Get(t.Context(), "user-9"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	loads.Store(0)

	cache.InvalidateMany(members)

	for _, id := range members {
		if _, err := cache.Get(t.Context(), id); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if _, err := cache.Get(t.Context(), "user-9"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// The three members reloaded; the bystander did not.
	if loads.Load() != 3 {
		t.Errorf("loader ran %d times, want 3", loads.Load())
	}
}

func TestUserAuthCache_LoadErrorNotCached(t *testing.T) {
	var calls atomic.Int64
	boom := errors.New("storage down")
	cache := NewUserAuthCache(16, time.Minute, func(context.Context, string) (*AuthState, error) {
		calls.Add(1)
		if calls.Load() == 1 {
			return nil, boom
		}
		return &AuthState{UserID: "user-1"}, nil
	})

	if _, err := cache.Get(t.Context(), "user-1"); !errors.Is(err, boom) {
		t.Fatalf("got %v, want load error", err)
	}
	if _, err := cache.Get(t.Context(), "user-1"); err != nil {
		t.Fatalf("second Get should retry the loader: %v", err)
	}
}

func TestUserAuthCache_Eviction(t *testing.T) {
	var loads atomic.Int64
	cache := NewUserAuthCache(2, time.Minute, countingLoader(&loads, "s1"))

	cache.Get(t.Context(), "user-1")
	cache.Get(t.Context(), "user-2")
	cache.Get(t.Context(), "user-3")

	if cache.Len() > 2 {
		t.Errorf("cache holds %d entries, capacity is 2", cache.Len())
	}
}
