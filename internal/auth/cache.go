package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// AuthState is the cached per-user authorisation snapshot: everything
// a request check needs without touching the database.
type AuthState struct {
	UserID        string
	Username      string
	Roles         []string
	Permissions   []Permission
	SecurityStamp string
	Locked        bool
}

// HasPermission reports whether the snapshot carries the claim.
func (s *AuthState) HasPermission(p Permission) bool {
	for _, have := range s.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// AuthStateLoader fetches a user's snapshot from storage on a cache
// miss.
type AuthStateLoader func(ctx context.Context, userID string) (*AuthState, error)

// UserAuthCache is a cache-aside snapshot store with an absolute TTL.
// Entries are never refreshed in place: a write path that changes
// authorisation state commits first, then invalidates, so the next
// read repopulates from the committed row. A stale window is bounded
// by the TTL in the worst case (a crashed process between commit and
// invalidate).
type UserAuthCache struct {
	entries *expirable.LRU[string, *AuthState]
	load    AuthStateLoader
}

// NewUserAuthCache builds a cache holding at most maxEntries snapshots
// for at most ttl each.
func NewUserAuthCache(maxEntries int, ttl time.Duration, load AuthStateLoader) *UserAuthCache {
	return &UserAuthCache{
		entries: expirable.NewLRU[string, *AuthState](maxEntries, nil, ttl),
		load:    load,
	}
}

// Get returns the cached snapshot for userID, loading and storing it
// on a miss. Load failures are not cached.
func (c *UserAuthCache) Get(ctx context.Context, userID string) (*AuthState, error) {
	if state, ok := c.entries.Get(userID); ok {
		return state, nil
	}
	state, err := c.load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading auth state for %s: %w", userID, err)
	}
	c.entries.Add(userID, state)
	return state, nil
}

// Invalidate drops a single user's snapshot.
func (c *UserAuthCache) Invalidate(userID string) {
	c.entries.Remove(userID)
}

// InvalidateMany drops a batch of snapshots, used when a role's claim
// set changes and every member must re-read.
func (c *UserAuthCache) InvalidateMany(userIDs []string) {
	for _, id := range userIDs {
		c.entries.Remove(id)
	}
}

// InvalidateAll empties the cache.
func (c *UserAuthCache) InvalidateAll() {
	c.entries.Purge()
}

// Len reports the current entry count, mostly for metrics.
func (c *UserAuthCache) Len() int {
	return c.entries.Len()
}
