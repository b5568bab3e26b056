// Package cache implements the time-bounded authorization cache.
//
// Cached values are keyed per user and per concern (effective permission
// set, role names, admin flag, internal-org flag) so that invalidating a
// user clears every decision input derived from that user. Values older
// than the store's TTL are treated as misses. Two backends are provided:
// an in-process bounded LRU for single-instance deployments and a Redis
// store for multi-instance deployments, where each instance may briefly
// serve stale data until its TTL expires or an invalidation call arrives.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrMiss is returned by Get for absent keys and for keys whose age
// exceeds the store's TTL.
var ErrMiss = errors.New("cache: miss")

// DefaultTTL bounds how stale a cached authorization input may be.
const DefaultTTL = 5 * time.Minute

// Per-user concerns. Every cached value derived from a user lives under
// one of these; InvalidateUser must clear all of them.
const (
	ConcernEffectivePerms = "effective_perms"
	ConcernUserRoles      = "user_roles"
	ConcernAdminRole      = "admin_role"
	ConcernInternalOrg    = "internal_org"
)

var userConcerns = []string{
	ConcernEffectivePerms,
	ConcernUserRoles,
	ConcernAdminRole,
	ConcernInternalOrg,
}

// Store is the authorization cache contract. Implementations must be safe
// for concurrent use; a read racing an invalidation resolves to a miss or
// the correct value, never a torn read.
type Store interface {
	// Get returns the cached value for key, or ErrMiss when the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the store's TTL. Redundant
	// population from concurrent misses is acceptable (last writer wins).
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Clear removes every entry, for global invalidation after bulk
	// role/permission changes.
	Clear(ctx context.Context) error

	// TTL reports the store's time-to-live.
	TTL() time.Duration
}

// UserKey builds the cache key for one concern of one user,
// e.g. "effective_perms:4f8b...".
func UserKey(concern string, userID uuid.UUID) string {
	return concern + ":" + userID.String()
}

// UserKeys enumerates every cache key derived from the given user.
func UserKeys(userID uuid.UUID) []string {
	keys := make([]string, len(userConcerns))
	for i, concern := range userConcerns {
		keys[i] = UserKey(concern, userID)
	}
	return keys
}

// InvalidateUser removes every cached value derived from the user.
func InvalidateUser(ctx context.Context, store Store, userID uuid.UUID) error {
	return store.Delete(ctx, UserKeys(userID)...)
}
