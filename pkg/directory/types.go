package directory

import (
	"time"

	"github.com/google/uuid"
)

// User lifecycle statuses. Suspended and deactivated users fail every
// permission check; the distinction only matters for reinstatement.
const (
	UserStatusActive      = "active"
	UserStatusSuspended   = "suspended"
	UserStatusDeactivated = "deactivated"
)

// Organisation statuses
const (
	OrgStatusActive   = "active"
	OrgStatusArchived = "archived"
)

// User is a directory entry for an authenticated principal. Authentication
// itself happens at the platform gateway; this service only needs identity,
// status and organisation membership.
type User struct {
	ID             uuid.UUID `json:"id"`
	OrganisationID uuid.UUID `json:"organisation_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Organisation is a tenant. Internal organisations belong to the platform
// operator; their administrators are not confined by organisation scope.
type Organisation struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	Status     string    `json:"status"`
	IsInternal bool      `json:"is_internal"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateUserParams carries the inputs for creating a user
type CreateUserParams struct {
	OrganisationID uuid.UUID `json:"organisation_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
}

// CreateOrganisationParams carries the inputs for creating an organisation
type CreateOrganisationParams struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	IsInternal bool   `json:"is_internal"`
}
