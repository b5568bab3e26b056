// Package catalog manages the permission catalog: the administered set of
// permissions that roles and direct grants reference by name.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/teamgrid/authz/pkg/apperrors"
)

// namePattern is the machine-key form "module.action", lowercase with
// underscores.
var namePattern = regexp.MustCompile(`^[a-z][a-z_]*\.[a-z][a-z_]*$`)

// Store handles permission catalog persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const permissionColumns = "id, name, display_name, description, module, action, is_internal, created_at, updated_at"

func scanPermission(row interface{ Scan(...interface{}) error }) (*Permission, error) {
	var p Permission
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.DisplayName,
		&p.Description,
		&p.Module,
		&p.Action,
		&p.IsInternal,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPermissions returns the full catalog ordered by module then name.
// Internal entries are excluded unless includeInternal is set.
func (s *Store) ListPermissions(ctx context.Context, includeInternal bool) ([]Permission, error) {
	query := `
		SELECT ` + permissionColumns + `
		FROM permissions
		WHERE $1 OR is_internal = false
		ORDER BY module ASC, name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, includeInternal)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list permissions")
	}
	defer rows.Close()

	var permissions []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan permission")
		}
		permissions = append(permissions, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to list permissions")
	}
	return permissions, nil
}

// GetPermission retrieves a catalog entry by its unique name
func (s *Store) GetPermission(ctx context.Context, name string) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE name = $1`

	p, err := scanPermission(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("permission not found: %s", name)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get permission")
	}
	return p, nil
}

// GetPermissionByID retrieves a catalog entry by its numeric ID
func (s *Store) GetPermissionByID(ctx context.Context, id int64) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1`

	p, err := scanPermission(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("permission not found: %d", id)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get permission")
	}
	return p, nil
}

// CreatePermission adds a new catalog entry. The name must be a unique
// "module.action" machine key whose components match the stored module and
// action fields.
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	if !namePattern.MatchString(p.Name) {
		return apperrors.Validation("name", "must match module.action, lowercase letters and underscores")
	}
	if p.DisplayName == "" {
		return apperrors.Validation("display_name", "is required")
	}

	parts := strings.SplitN(p.Name, ".", 2)
	if p.Module == "" {
		p.Module = parts[0]
	}
	if p.Action == "" {
		p.Action = parts[1]
	}
	if p.Module != parts[0] || p.Action != parts[1] {
		return apperrors.Validation("name", "must equal module.action for the given module and action")
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM permissions WHERE name = $1)`, p.Name).Scan(&exists)
	if err != nil {
		return apperrors.Store(err, "failed to check permission name")
	}
	if exists {
		return apperrors.Conflict("name", "a permission with this name already exists")
	}

	query := `
		INSERT INTO permissions (name, display_name, description, module, action, is_internal, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, query,
		p.Name,
		p.DisplayName,
		p.Description,
		p.Module,
		p.Action,
		p.IsInternal,
		now,
		now,
	).Scan(&p.ID)

	if err != nil {
		return apperrors.FromPq(err, "name", "a permission with this name already exists")
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// UpdatePermission changes the mutable fields of a catalog entry. Name,
// module and action are fixed for the life of the permission.
func (s *Store) UpdatePermission(ctx context.Context, id int64, displayName, description string, isInternal bool) (*Permission, error) {
	if displayName == "" {
		return nil, apperrors.Validation("display_name", "is required")
	}

	query := `
		UPDATE permissions
		SET display_name = $1, description = $2, is_internal = $3, updated_at = $4
		WHERE id = $5
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, displayName, description, isInternal, now, id)
	if err != nil {
		return nil, apperrors.Store(err, "failed to update permission")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, apperrors.Store(err, "failed to update permission")
	}
	if affected == 0 {
		return nil, apperrors.NotFound("permission not found: %d", id)
	}

	return s.GetPermissionByID(ctx, id)
}
