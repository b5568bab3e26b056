package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/teamgrid/authz/pkg/apperrors"
	"github.com/teamgrid/authz/pkg/cache"
	"github.com/teamgrid/authz/pkg/observability"
)

// ScopeResolver answers which organisation a user's queries must be confined
// to. An administrator of a non-internal organisation is restricted to their
// own organisation; everyone else is unrestricted. This composes with, but
// is independent of, the boolean permission checks.
type ScopeResolver struct {
	db      *sql.DB
	cache   cache.Store
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewScopeResolver creates a scope resolver backed by db and the cache store
func NewScopeResolver(db *sql.DB, cacheStore cache.Store, metrics *observability.Metrics, logger *observability.Logger) *ScopeResolver {
	return &ScopeResolver{db: db, cache: cacheStore, metrics: metrics, logger: logger}
}

// orgInfo is the cached payload for the internal_org concern
type orgInfo struct {
	Known          bool      `json:"known"`
	OrganisationID uuid.UUID `json:"organisation_id"`
	Internal       bool      `json:"internal"`
}

// isAdmin reports whether the user holds an active administrative role,
// cached under the admin_role concern key.
func (s *ScopeResolver) isAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := cache.UserKey(cache.ConcernAdminRole, userID)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		s.metrics.CacheHitsTotal.WithLabelValues(cache.ConcernAdminRole).Inc()
		admin, parseErr := strconv.ParseBool(string(raw))
		if parseErr == nil {
			return admin, nil
		}
	} else if errors.Is(err, cache.ErrMiss) {
		s.metrics.CacheMissesTotal.WithLabelValues(cache.ConcernAdminRole).Inc()
	}

	query := `
		SELECT EXISTS(
			SELECT 1
			FROM user_roles ur
			JOIN roles r ON r.id = ur.role_id AND r.is_active = true
			WHERE ur.user_id = $1 AND r.name IN ($2, $3)
		)
	`

	var admin bool
	err := s.db.QueryRowContext(ctx, query, userID, adminRoleNames[0], adminRoleNames[1]).Scan(&admin)
	if err != nil {
		return false, apperrors.Store(err, "failed to check admin role")
	}

	if err := s.cache.Set(ctx, key, []byte(strconv.FormatBool(admin))); err != nil {
		s.logger.WithError(err).Warn("cache write failed")
	}
	return admin, nil
}

// organisation returns the user's organisation and its internal flag, cached
// under the internal_org concern key.
func (s *ScopeResolver) organisation(ctx context.Context, userID uuid.UUID) (orgInfo, error) {
	key := cache.UserKey(cache.ConcernInternalOrg, userID)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		s.metrics.CacheHitsTotal.WithLabelValues(cache.ConcernInternalOrg).Inc()
		var info orgInfo
		if json.Unmarshal(raw, &info) == nil {
			return info, nil
		}
	} else if errors.Is(err, cache.ErrMiss) {
		s.metrics.CacheMissesTotal.WithLabelValues(cache.ConcernInternalOrg).Inc()
	}

	query := `
		SELECT o.id, o.is_internal
		FROM users u
		JOIN organisations o ON o.id = u.organisation_id
		WHERE u.id = $1
	`

	var info orgInfo
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&info.OrganisationID, &info.Internal)
	if errors.Is(err, sql.ErrNoRows) {
		info = orgInfo{Known: false}
	} else if err != nil {
		return orgInfo{}, apperrors.Store(err, "failed to look up organisation")
	} else {
		info.Known = true
	}

	if raw, marshalErr := json.Marshal(info); marshalErr == nil {
		if err := s.cache.Set(ctx, key, raw); err != nil {
			s.logger.WithError(err).Warn("cache write failed")
		}
	}
	return info, nil
}

// ResolveScope computes the organisation confinement for a user's list and
// aggregate queries.
func (s *ScopeResolver) ResolveScope(ctx context.Context, userID uuid.UUID) (Scope, error) {
	info, err := s.organisation(ctx, userID)
	if err != nil {
		return Scope{}, err
	}
	if !info.Known {
		return Scope{}, apperrors.NotFound("user not found: %s", userID)
	}

	admin, err := s.isAdmin(ctx, userID)
	if err != nil {
		return Scope{}, err
	}

	scope := Scope{Unrestricted: true}
	if admin && !info.Internal {
		orgID := info.OrganisationID
		scope = Scope{Unrestricted: false, OrganisationID: &orgID}
	}

	s.metrics.ScopeResolutionsTotal.WithLabelValues(strconv.FormatBool(!scope.Unrestricted)).Inc()
	return scope, nil
}

// IsInternalOrg reports whether the user belongs to an internal
// organisation. Unknown users are external.
func (s *ScopeResolver) IsInternalOrg(ctx context.Context, userID uuid.UUID) (bool, error) {
	info, err := s.organisation(ctx, userID)
	if err != nil {
		return false, err
	}
	return info.Known && info.Internal, nil
}
