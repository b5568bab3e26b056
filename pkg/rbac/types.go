package rbac

import (
	"time"

	"github.com/google/uuid"

	"github.com/teamgrid/authz/pkg/catalog"
)

// System role machine names seeded by the migrations. The admin pair also
// drives organisation scoping.
const (
	RoleSuperAdmin     = "super_admin"
	RoleAdmin          = "admin"
	RoleProjectManager = "project_manager"
	RoleMember         = "member"
)

// adminRoleNames are the roles that mark a user as an administrator for
// scope resolution.
var adminRoleNames = []string{RoleAdmin, RoleSuperAdmin}

// Role is a named bundle of catalog permissions. System roles keep their
// machine name for life and cannot be deleted; inactive roles grant nothing
// while still holding their links.
type Role struct {
	ID             uuid.UUID            `json:"id"`
	Name           string               `json:"name"`
	DisplayName    string               `json:"display_name"`
	Description    string               `json:"description"`
	IsSystemRole   bool                 `json:"is_system_role"`
	IsActive       bool                 `json:"is_active"`
	OrganisationID *uuid.UUID           `json:"organisation_id,omitempty"`
	Permissions    []catalog.Permission `json:"permissions,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// UserRole is a role assignment for a user
type UserRole struct {
	UserID   uuid.UUID `json:"user_id"`
	RoleID   uuid.UUID `json:"role_id"`
	JoinedAt time.Time `json:"joined_at"`
	Role     *Role     `json:"role,omitempty"`
}

// Provenance says where an effective permission came from. It only matters
// for editability in admin UIs; the allow decision is the union either way.
type Provenance string

const (
	ProvenanceDirect Provenance = "direct"
	ProvenanceRole   Provenance = "from_role"
	ProvenanceBoth   Provenance = "direct_and_role"
)

// EffectivePermission is one entry of a user's computed permission set
type EffectivePermission struct {
	Name       string     `json:"name"`
	Provenance Provenance `json:"provenance"`
}

// Outcome classifies an authorization decision for metrics and logging.
// Callers of the resolver only ever see the boolean; suspended users and
// store failures both answer false but are counted apart from plain denials.
type Outcome string

const (
	OutcomeAllowed   Outcome = "allowed"
	OutcomeDenied    Outcome = "denied"
	OutcomeSuspended Outcome = "suspended"
	OutcomeError     Outcome = "error"
)

// Scope is the result of organisation scope resolution. When Unrestricted is
// false, list and aggregate queries must be confined to OrganisationID.
type Scope struct {
	Unrestricted   bool       `json:"unrestricted"`
	OrganisationID *uuid.UUID `json:"organisation_id,omitempty"`
}

// OrganisationFilter returns the organisation to confine queries to, or nil
// when no filter applies.
func (s Scope) OrganisationFilter() *uuid.UUID {
	if s.Unrestricted {
		return nil
	}
	return s.OrganisationID
}

// CreateRoleParams carries the inputs for creating a role
type CreateRoleParams struct {
	Name           string     `json:"name"`
	DisplayName    string     `json:"display_name"`
	Description    string     `json:"description"`
	OrganisationID *uuid.UUID `json:"organisation_id,omitempty"`
	PermissionIDs  []int64    `json:"permission_ids"`
}

// UpdateRoleParams carries the inputs for updating a role. The permission
// set is a full replacement, not a delta.
type UpdateRoleParams struct {
	Name          string  `json:"name"`
	DisplayName   string  `json:"display_name"`
	Description   string  `json:"description"`
	IsActive      bool    `json:"is_active"`
	PermissionIDs []int64 `json:"permission_ids"`
}
