package directory

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teamgrid/authz/pkg/apperrors"
	"github.com/teamgrid/authz/pkg/rbac"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Store provides the user and organisation directory against postgres
type Store struct {
	db *sql.DB
}

// NewStore creates a directory store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = "id, organisation_id, name, email, status, created_at, updated_at"
const orgColumns = "id, name, slug, status, is_internal, created_at, updated_at"

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.OrganisationID, &user.Name, &user.Email,
		&user.Status, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func scanOrganisation(row interface{ Scan(...interface{}) error }) (*Organisation, error) {
	org := &Organisation{}
	err := row.Scan(
		&org.ID, &org.Name, &org.Slug, &org.Status, &org.IsInternal,
		&org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user not found: %s", userID)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get user")
	}
	return user, nil
}

// GetOrganisation retrieves an organisation by ID
func (s *Store) GetOrganisation(ctx context.Context, orgID uuid.UUID) (*Organisation, error) {
	query := `SELECT ` + orgColumns + ` FROM organisations WHERE id = $1`

	org, err := scanOrganisation(s.db.QueryRowContext(ctx, query, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("organisation not found: %s", orgID)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get organisation")
	}
	return org, nil
}

// GetOrganisationBySlug retrieves an organisation by slug
func (s *Store) GetOrganisationBySlug(ctx context.Context, slug string) (*Organisation, error) {
	query := `SELECT ` + orgColumns + ` FROM organisations WHERE slug = $1`

	org, err := scanOrganisation(s.db.QueryRowContext(ctx, query, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("organisation not found: %s", slug)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get organisation")
	}
	return org, nil
}

// CreateUser creates a user under an existing organisation. Email addresses
// are unique across the whole directory.
func (s *Store) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	if params.Name == "" {
		return nil, apperrors.Validation("name", "is required")
	}
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.Validation("email", "must be a valid email address")
	}

	if _, err := s.GetOrganisation(ctx, params.OrganisationID); err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, apperrors.Validation("organisation_id", "organisation does not exist")
		}
		return nil, err
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return nil, apperrors.Store(err, "failed to check email uniqueness")
	}
	if exists {
		return nil, apperrors.Conflict("email", "a user with this email already exists")
	}

	userID := uuid.New()
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, organisation_id, name, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, params.OrganisationID, params.Name, email, UserStatusActive, now, now,
	)
	if err != nil {
		return nil, apperrors.FromPq(err, "email", "a user with this email already exists")
	}

	return s.GetUser(ctx, userID)
}

// CreateOrganisation creates an organisation. The slug defaults to a
// normalised form of the name when not given.
func (s *Store) CreateOrganisation(ctx context.Context, params CreateOrganisationParams) (*Organisation, error) {
	if params.Name == "" {
		return nil, apperrors.Validation("name", "is required")
	}
	slug := params.Slug
	if slug == "" {
		slug = generateSlug(params.Name)
	}
	if !slugPattern.MatchString(slug) {
		return nil, apperrors.Validation("slug", "must be lowercase letters, digits and hyphens")
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM organisations WHERE slug = $1)`, slug,
	).Scan(&exists)
	if err != nil {
		return nil, apperrors.Store(err, "failed to check slug uniqueness")
	}
	if exists {
		return nil, apperrors.Conflict("slug", "an organisation with this slug already exists")
	}

	orgID := uuid.New()
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organisations (id, name, slug, status, is_internal, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		orgID, params.Name, slug, OrgStatusActive, params.IsInternal, now, now,
	)
	if err != nil {
		return nil, apperrors.FromPq(err, "slug", "an organisation with this slug already exists")
	}

	return s.GetOrganisation(ctx, orgID)
}

// UpdateUserStatus moves a user between lifecycle states. The caller must
// invalidate the user's cached decision sets afterwards.
func (s *Store) UpdateUserStatus(ctx context.Context, userID uuid.UUID, status string) (*User, error) {
	switch status {
	case UserStatusActive, UserStatusSuspended, UserStatusDeactivated:
	default:
		return nil, apperrors.Validation("status", "must be one of active, suspended, deactivated")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), userID,
	)
	if err != nil {
		return nil, apperrors.Store(err, "failed to update user status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, apperrors.Store(err, "failed to update user status")
	}
	if affected == 0 {
		return nil, apperrors.NotFound("user not found: %s", userID)
	}

	return s.GetUser(ctx, userID)
}

// ListUsers lists users visible under the given scope, confined to one
// organisation when the scope restricts.
func (s *Store) ListUsers(ctx context.Context, scope rbac.Scope) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []interface{}
	if orgID := scope.OrganisationFilter(); orgID != nil {
		query += ` WHERE organisation_id = $1`
		args = append(args, *orgID)
	}
	query += ` ORDER BY created_at DESC, email ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list users")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan user")
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to list users")
	}
	return users, nil
}

// ListOrganisations lists organisations visible under the given scope. A
// restricted scope sees only its own organisation.
func (s *Store) ListOrganisations(ctx context.Context, scope rbac.Scope) ([]Organisation, error) {
	query := `SELECT ` + orgColumns + ` FROM organisations`
	var args []interface{}
	if orgID := scope.OrganisationFilter(); orgID != nil {
		query += ` WHERE id = $1`
		args = append(args, *orgID)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list organisations")
	}
	defer rows.Close()

	var orgs []Organisation
	for rows.Next() {
		org, err := scanOrganisation(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan organisation")
		}
		orgs = append(orgs, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to list organisations")
	}
	return orgs, nil
}

func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return strings.Trim(slug, "-")
}
