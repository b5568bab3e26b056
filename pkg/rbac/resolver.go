package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/teamgrid/authz/pkg/apperrors"
	"github.com/teamgrid/authz/pkg/cache"
	"github.com/teamgrid/authz/pkg/observability"
)

// userStatusSuspended mirrors the users.status value that fails every check.
const userStatusSuspended = "suspended"

// Resolver computes effective permission sets and answers the boolean
// authorization checks. All check methods fail closed: a backing store
// failure answers false, never an error, and is counted as an error outcome
// rather than a denial.
type Resolver struct {
	db      *sql.DB
	store   *Store
	cache   cache.Store
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewResolver creates a resolver backed by db and the given cache store
func NewResolver(db *sql.DB, cacheStore cache.Store, metrics *observability.Metrics, logger *observability.Logger) *Resolver {
	return &Resolver{
		db:      db,
		store:   NewStore(db),
		cache:   cacheStore,
		metrics: metrics,
		logger:  logger,
	}
}

// Store returns the role store sharing the resolver's database handle
func (r *Resolver) Store() *Store {
	return r.store
}

// effectiveSet is the cached per-user payload. Known is false for users that
// do not exist; caching the negative answer keeps absent-user probes cheap
// and is always the fail-closed direction.
type effectiveSet struct {
	Known       bool                  `json:"known"`
	Status      string                `json:"status"`
	Permissions map[string]Provenance `json:"permissions"`
}

// userRoleSet is the cached payload for the user_roles concern
type userRoleSet struct {
	Known  bool     `json:"known"`
	Status string   `json:"status"`
	Roles  []string `json:"roles"`
}

func (r *Resolver) cacheGet(ctx context.Context, concern string, userID uuid.UUID, dest interface{}) bool {
	raw, err := r.cache.Get(ctx, cache.UserKey(concern, userID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			r.logger.WithError(err).WithField("concern", concern).Warn("cache read failed")
		}
		r.metrics.CacheMissesTotal.WithLabelValues(concern).Inc()
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		r.metrics.CacheMissesTotal.WithLabelValues(concern).Inc()
		return false
	}
	r.metrics.CacheHitsTotal.WithLabelValues(concern).Inc()
	return true
}

func (r *Resolver) cacheSet(ctx context.Context, concern string, userID uuid.UUID, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cache.UserKey(concern, userID), raw); err != nil {
		r.logger.WithError(err).WithField("concern", concern).Warn("cache write failed")
	}
}

func (r *Resolver) userStatus(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM users WHERE id = $1`, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Store(err, "failed to look up user")
	}
	return status, true, nil
}

// loadEffectiveSet returns the user's effective permission set, from cache
// when fresh. The second return reports whether the answer was cached.
func (r *Resolver) loadEffectiveSet(ctx context.Context, userID uuid.UUID) (effectiveSet, bool, error) {
	var set effectiveSet
	if r.cacheGet(ctx, cache.ConcernEffectivePerms, userID, &set) {
		return set, true, nil
	}

	status, known, err := r.userStatus(ctx, userID)
	if err != nil {
		return effectiveSet{}, false, err
	}
	set = effectiveSet{Known: known, Status: status, Permissions: map[string]Provenance{}}
	if !known {
		r.cacheSet(ctx, cache.ConcernEffectivePerms, userID, set)
		return set, false, nil
	}

	// Role-derived permissions, skipping inactive roles entirely.
	rolePerms, err := r.queryNames(ctx, `
		SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id AND r.is_active = true
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1`, userID)
	if err != nil {
		return effectiveSet{}, false, err
	}
	for _, name := range rolePerms {
		set.Permissions[name] = ProvenanceRole
	}

	directPerms, err := r.queryNames(ctx, `
		SELECT p.name
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1`, userID)
	if err != nil {
		return effectiveSet{}, false, err
	}
	for _, name := range directPerms {
		if set.Permissions[name] == ProvenanceRole {
			set.Permissions[name] = ProvenanceBoth
		} else {
			set.Permissions[name] = ProvenanceDirect
		}
	}

	r.cacheSet(ctx, cache.ConcernEffectivePerms, userID, set)
	return set, false, nil
}

func (r *Resolver) queryNames(ctx context.Context, query string, userID uuid.UUID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to load permissions")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Store(err, "failed to scan permission name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// decide runs one boolean check over the user's effective set with metrics
// and fail-closed error handling.
func (r *Resolver) decide(ctx context.Context, userID uuid.UUID, check func(effectiveSet) bool) bool {
	start := time.Now()

	set, cached, err := r.loadEffectiveSet(ctx, userID)
	outcome := OutcomeDenied
	allowed := false

	switch {
	case err != nil:
		outcome = OutcomeError
		r.metrics.StoreErrorsTotal.WithLabelValues("resolver").Inc()
		r.logger.WithError(err).WithField("user_id", userID).Error("authorization check failed, denying")
	case !set.Known:
		outcome = OutcomeDenied
	case set.Status == userStatusSuspended:
		outcome = OutcomeSuspended
	case check(set):
		outcome = OutcomeAllowed
		allowed = true
	}

	r.metrics.RecordDecision(string(outcome), cached, time.Since(start))
	return allowed
}

// HasPermission reports whether the user holds the named permission through
// any active role or direct grant. Suspended and unknown users always get
// false.
func (r *Resolver) HasPermission(ctx context.Context, userID uuid.UUID, permission string) bool {
	return r.decide(ctx, userID, func(set effectiveSet) bool {
		_, ok := set.Permissions[permission]
		return ok
	})
}

// HasAnyPermission reports whether the user holds at least one of the named
// permissions.
func (r *Resolver) HasAnyPermission(ctx context.Context, userID uuid.UUID, permissions ...string) bool {
	return r.decide(ctx, userID, func(set effectiveSet) bool {
		for _, name := range permissions {
			if _, ok := set.Permissions[name]; ok {
				return true
			}
		}
		return false
	})
}

// HasAllPermissions reports whether the user holds every named permission.
func (r *Resolver) HasAllPermissions(ctx context.Context, userID uuid.UUID, permissions ...string) bool {
	return r.decide(ctx, userID, func(set effectiveSet) bool {
		if len(permissions) == 0 {
			return false
		}
		for _, name := range permissions {
			if _, ok := set.Permissions[name]; !ok {
				return false
			}
		}
		return true
	})
}

// activeRoleNames returns the names of the user's active roles, cached under
// its own concern key.
func (r *Resolver) activeRoleNames(ctx context.Context, userID uuid.UUID) (userRoleSet, error) {
	var set userRoleSet
	if r.cacheGet(ctx, cache.ConcernUserRoles, userID, &set) {
		return set, nil
	}

	status, known, err := r.userStatus(ctx, userID)
	if err != nil {
		return userRoleSet{}, err
	}
	set = userRoleSet{Known: known, Status: status}
	if known {
		set.Roles, err = r.queryNames(ctx, `
			SELECT r.name
			FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id AND r.is_active = true
			WHERE ur.user_id = $1`, userID)
		if err != nil {
			return userRoleSet{}, err
		}
	}

	r.cacheSet(ctx, cache.ConcernUserRoles, userID, set)
	return set, nil
}

// HasAnyRole reports whether the user holds at least one of the named active
// roles.
func (r *Resolver) HasAnyRole(ctx context.Context, userID uuid.UUID, roleNames ...string) bool {
	start := time.Now()

	set, err := r.activeRoleNames(ctx, userID)
	outcome := OutcomeDenied
	allowed := false

	switch {
	case err != nil:
		outcome = OutcomeError
		r.metrics.StoreErrorsTotal.WithLabelValues("resolver").Inc()
		r.logger.WithError(err).WithField("user_id", userID).Error("role check failed, denying")
	case !set.Known:
		outcome = OutcomeDenied
	case set.Status == userStatusSuspended:
		outcome = OutcomeSuspended
	default:
		for _, want := range roleNames {
			for _, held := range set.Roles {
				if held == want {
					allowed = true
					break
				}
			}
			if allowed {
				break
			}
		}
		if allowed {
			outcome = OutcomeAllowed
		}
	}

	r.metrics.RecordDecision(string(outcome), false, time.Since(start))
	return allowed
}

// EffectivePermissions returns the user's full effective set with
// provenance, sorted by name. Unlike the boolean checks this surfaces
// errors: it serves admin editors, not the hot decision path.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID uuid.UUID) ([]EffectivePermission, error) {
	set, _, err := r.loadEffectiveSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !set.Known {
		return nil, apperrors.NotFound("user not found: %s", userID)
	}

	permissions := make([]EffectivePermission, 0, len(set.Permissions))
	for name, provenance := range set.Permissions {
		permissions = append(permissions, EffectivePermission{Name: name, Provenance: provenance})
	}
	sort.Slice(permissions, func(i, j int) bool {
		return permissions[i].Name < permissions[j].Name
	})
	return permissions, nil
}

// InvalidateUser drops every cached entry derived from the user. Callers
// must invoke it after any mutation to the user's roles, grants, status or
// organisation.
func (r *Resolver) InvalidateUser(ctx context.Context, userID uuid.UUID, trigger string) {
	if err := cache.InvalidateUser(ctx, r.cache, userID); err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Warn("cache invalidation failed")
	}
	r.metrics.CacheInvalidationsTotal.WithLabelValues(trigger).Inc()
}

// InvalidateUsers invalidates a batch of users under one trigger
func (r *Resolver) InvalidateUsers(ctx context.Context, userIDs []uuid.UUID, trigger string) {
	for _, userID := range userIDs {
		r.InvalidateUser(ctx, userID, trigger)
	}
}

// ClearCache drops every cached authorization entry. Intended for bulk role
// or catalog changes where per-user invalidation is impractical.
func (r *Resolver) ClearCache(ctx context.Context) error {
	if err := r.cache.Clear(ctx); err != nil {
		return err
	}
	r.metrics.CacheInvalidationsTotal.WithLabelValues("clear_all").Inc()
	return nil
}
