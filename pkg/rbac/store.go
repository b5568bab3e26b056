package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teamgrid/authz/pkg/apperrors"
	"github.com/teamgrid/authz/pkg/catalog"
)

// roleNamePattern is the machine-key form: lowercase letters and underscores.
var roleNamePattern = regexp.MustCompile(`^[a-z][a-z_]*$`)

// Store handles role and grant persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new role store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const roleColumns = "id, name, display_name, description, is_system_role, is_active, organisation_id, created_at, updated_at"

func scanRole(scanner interface{ Scan(...interface{}) error }) (*Role, error) {
	var role Role
	var orgID sql.NullString

	err := scanner.Scan(
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&role.Description,
		&role.IsSystemRole,
		&role.IsActive,
		&orgID,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if orgID.Valid {
		if id, err := uuid.Parse(orgID.String); err == nil {
			role.OrganisationID = &id
		}
	}

	return &role, nil
}

// placeholders builds "$n, $n+1, ..." for IN clauses.
func placeholders(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func (s *Store) validateRoleName(ctx context.Context, q querier, name string, excludeRole *uuid.UUID) error {
	if !roleNamePattern.MatchString(name) {
		return apperrors.Validation("name", "must be lowercase letters and underscores")
	}

	query := `SELECT EXISTS(SELECT 1 FROM roles WHERE name = $1`
	args := []interface{}{name}
	if excludeRole != nil {
		query += ` AND id != $2`
		args = append(args, *excludeRole)
	}
	query += `)`

	var exists bool
	if err := q.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return apperrors.Store(err, "failed to check role name")
	}
	if exists {
		return apperrors.Conflict("name", "a role with this name already exists")
	}
	return nil
}

func (s *Store) verifyPermissionIDs(ctx context.Context, q querier, ids []int64) error {
	if len(ids) == 0 {
		return apperrors.Validation("permission_ids", "at least one permission must be selected")
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT COUNT(DISTINCT id) FROM permissions WHERE id IN (` + placeholders(1, len(ids)) + `)`

	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return apperrors.Store(err, "failed to verify permissions")
	}

	distinct := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		distinct[id] = struct{}{}
	}
	if count != len(distinct) {
		return apperrors.Validation("permission_ids", "contains unknown permission ids")
	}
	return nil
}

func insertRolePermissions(ctx context.Context, q querier, roleID uuid.UUID, permissionIDs []int64) error {
	seen := make(map[int64]struct{}, len(permissionIDs))
	for _, pid := range permissionIDs {
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		_, err := q.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
			roleID, pid,
		)
		if err != nil {
			return apperrors.Store(err, "failed to link role permission")
		}
	}
	return nil
}

// loadRolePermissions fetches the permission sets for the given roles in one
// query and attaches them in place.
func (s *Store) loadRolePermissions(ctx context.Context, roles []*Role) error {
	if len(roles) == 0 {
		return nil
	}

	args := make([]interface{}, len(roles))
	byID := make(map[uuid.UUID]*Role, len(roles))
	for i, role := range roles {
		args[i] = role.ID
		byID[role.ID] = role
		role.Permissions = []catalog.Permission{}
	}

	query := `
		SELECT rp.role_id, p.id, p.name, p.display_name, p.description, p.module, p.action, p.is_internal, p.created_at, p.updated_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id IN (` + placeholders(1, len(roles)) + `)
		ORDER BY p.module ASC, p.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return apperrors.Store(err, "failed to load role permissions")
	}
	defer rows.Close()

	for rows.Next() {
		var roleID uuid.UUID
		var p catalog.Permission
		err := rows.Scan(&roleID, &p.ID, &p.Name, &p.DisplayName, &p.Description, &p.Module, &p.Action, &p.IsInternal, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return apperrors.Store(err, "failed to scan role permission")
		}
		if role, ok := byID[roleID]; ok {
			role.Permissions = append(role.Permissions, p)
		}
	}
	return rows.Err()
}

// CreateRole creates a role with its full permission set in one transaction
func (s *Store) CreateRole(ctx context.Context, params CreateRoleParams) (*Role, error) {
	if params.DisplayName == "" {
		return nil, apperrors.Validation("display_name", "is required")
	}
	if err := s.validateRoleName(ctx, s.db, params.Name, nil); err != nil {
		return nil, err
	}
	if err := s.verifyPermissionIDs(ctx, s.db, params.PermissionIDs); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Store(err, "failed to start transaction")
	}
	defer tx.Rollback()

	roleID := uuid.New()
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO roles (id, name, display_name, description, is_system_role, is_active, organisation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		roleID, params.Name, params.DisplayName, params.Description, false, true, params.OrganisationID, now, now,
	)
	if err != nil {
		return nil, apperrors.FromPq(err, "name", "a role with this name already exists")
	}

	if err := insertRolePermissions(ctx, tx, roleID, params.PermissionIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Store(err, "failed to commit role creation")
	}

	return s.GetRole(ctx, roleID)
}

// GetRole retrieves a role with its permission set loaded
func (s *Store) GetRole(ctx context.Context, roleID uuid.UUID) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("role not found: %s", roleID)
	}
	if err != nil {
		return nil, apperrors.Store(err, "failed to get role")
	}

	if err := s.loadRolePermissions(ctx, []*Role{role}); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles lists all roles with their permission sets, system roles first
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY is_system_role DESC, name ASC`
	return s.listRoles(ctx, query)
}

// ListSystemRoles lists only the system-defined roles
func (s *Store) ListSystemRoles(ctx context.Context) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE is_system_role = true ORDER BY name ASC`
	return s.listRoles(ctx, query)
}

func (s *Store) listRoles(ctx context.Context, query string, args ...interface{}) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list roles")
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan role")
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to list roles")
	}

	if err := s.loadRolePermissions(ctx, roles); err != nil {
		return nil, err
	}

	out := make([]Role, len(roles))
	for i, role := range roles {
		out[i] = *role
	}
	return out, nil
}

// UpdateRole updates a role and replaces its whole permission set in one
// transaction. Returns the updated role and the IDs of users holding it, so
// the caller can invalidate their cache entries.
func (s *Store) UpdateRole(ctx context.Context, roleID uuid.UUID, params UpdateRoleParams) (*Role, []uuid.UUID, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}

	if params.Name == "" {
		params.Name = role.Name
	}
	if role.IsSystemRole && params.Name != role.Name {
		return nil, nil, apperrors.Forbidden("system role names cannot be changed")
	}
	if params.DisplayName == "" {
		return nil, nil, apperrors.Validation("display_name", "is required")
	}
	if params.Name != role.Name {
		if err := s.validateRoleName(ctx, s.db, params.Name, &roleID); err != nil {
			return nil, nil, err
		}
	}
	if err := s.verifyPermissionIDs(ctx, s.db, params.PermissionIDs); err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, apperrors.Store(err, "failed to start transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE roles
		SET name = $1, display_name = $2, description = $3, is_active = $4, updated_at = $5
		WHERE id = $6`,
		params.Name, params.DisplayName, params.Description, params.IsActive, time.Now().UTC(), roleID,
	)
	if err != nil {
		return nil, nil, apperrors.FromPq(err, "name", "a role with this name already exists")
	}

	// Full overwrite of the permission set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return nil, nil, apperrors.Store(err, "failed to clear role permissions")
	}
	if err := insertRolePermissions(ctx, tx, roleID, params.PermissionIDs); err != nil {
		return nil, nil, err
	}

	holders, err := roleHolders(ctx, tx, roleID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, apperrors.Store(err, "failed to commit role update")
	}

	updated, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	return updated, holders, nil
}

// DeleteRole deletes a non-system role and cascades its permission and user
// links. Returns the IDs of users who held the role.
func (s *Store) DeleteRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystemRole {
		return nil, apperrors.Forbidden("system roles cannot be deleted")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Store(err, "failed to start transaction")
	}
	defer tx.Rollback()

	holders, err := roleHolders(ctx, tx, roleID)
	if err != nil {
		return nil, err
	}

	for _, stmt := range []string{
		`DELETE FROM role_permissions WHERE role_id = $1`,
		`DELETE FROM user_roles WHERE role_id = $1`,
		`DELETE FROM roles WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, roleID); err != nil {
			return nil, apperrors.Store(err, "failed to delete role")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Store(err, "failed to commit role deletion")
	}

	return holders, nil
}

func roleHolders(ctx context.Context, q querier, roleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to list role holders")
	}
	defer rows.Close()

	var holders []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, apperrors.Store(err, "failed to scan role holder")
		}
		holders = append(holders, userID)
	}
	return holders, rows.Err()
}

// GetUserRoles returns a user's role assignments with role data attached.
// Inactive roles are included here; the resolver is what excludes them from
// effective permissions.
func (s *Store) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]UserRole, error) {
	query := `
		SELECT ur.user_id, ur.role_id, ur.joined_at, r.id, r.name, r.display_name, r.description, r.is_system_role, r.is_active, r.organisation_id, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY ur.joined_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to get user roles")
	}
	defer rows.Close()

	var userRoles []UserRole
	var roles []*Role
	for rows.Next() {
		var ur UserRole
		var role Role
		var orgID sql.NullString

		err := rows.Scan(
			&ur.UserID, &ur.RoleID, &ur.JoinedAt,
			&role.ID, &role.Name, &role.DisplayName, &role.Description,
			&role.IsSystemRole, &role.IsActive, &orgID, &role.CreatedAt, &role.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan user role")
		}
		if orgID.Valid {
			if id, err := uuid.Parse(orgID.String); err == nil {
				role.OrganisationID = &id
			}
		}

		ur.Role = &role
		userRoles = append(userRoles, ur)
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store(err, "failed to get user roles")
	}

	if err := s.loadRolePermissions(ctx, roles); err != nil {
		return nil, err
	}
	return userRoles, nil
}

// UpdateUserRoles replaces a user's whole role assignment set in one
// transaction.
func (s *Store) UpdateUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	if len(roleIDs) > 0 {
		args := make([]interface{}, len(roleIDs))
		for i, id := range roleIDs {
			args[i] = id
		}
		var count int
		query := `SELECT COUNT(DISTINCT id) FROM roles WHERE id IN (` + placeholders(1, len(roleIDs)) + `)`
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return apperrors.Store(err, "failed to verify roles")
		}
		distinct := make(map[uuid.UUID]struct{}, len(roleIDs))
		for _, id := range roleIDs {
			distinct[id] = struct{}{}
		}
		if count != len(distinct) {
			return apperrors.Validation("role_ids", "contains unknown role ids")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Store(err, "failed to start transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return apperrors.Store(err, "failed to clear user roles")
	}

	now := time.Now().UTC()
	seen := make(map[uuid.UUID]struct{}, len(roleIDs))
	for _, roleID := range roleIDs {
		if _, dup := seen[roleID]; dup {
			continue
		}
		seen[roleID] = struct{}{}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id, joined_at) VALUES ($1, $2, $3)`,
			userID, roleID, now,
		)
		if err != nil {
			return apperrors.Store(err, "failed to assign role")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Store(err, "failed to commit role assignment")
	}
	return nil
}

// GrantDirectPermission gives a user a permission independent of any role.
// Granting an already-granted permission is a no-op.
func (s *Store) GrantDirectPermission(ctx context.Context, userID uuid.UUID, permissionID int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM permissions WHERE id = $1)`, permissionID).Scan(&exists)
	if err != nil {
		return apperrors.Store(err, "failed to verify permission")
	}
	if !exists {
		return apperrors.NotFound("permission not found: %d", permissionID)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_permissions WHERE user_id = $1 AND permission_id = $2)`,
		userID, permissionID,
	).Scan(&exists)
	if err != nil {
		return apperrors.Store(err, "failed to check direct grant")
	}
	if exists {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_permissions (user_id, permission_id, granted_at) VALUES ($1, $2, $3)`,
		userID, permissionID, time.Now().UTC(),
	)
	if err != nil {
		return apperrors.Store(err, "failed to grant permission")
	}
	return nil
}

// RevokeDirectPermission removes a direct grant. The user may still hold the
// permission through a role afterwards; that is by contract, not a bug.
func (s *Store) RevokeDirectPermission(ctx context.Context, userID uuid.UUID, permissionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`,
		userID, permissionID,
	)
	if err != nil {
		return apperrors.Store(err, "failed to revoke permission")
	}
	return nil
}

// GetDirectPermissions returns the permissions granted to a user outside of
// any role.
func (s *Store) GetDirectPermissions(ctx context.Context, userID uuid.UUID) ([]catalog.Permission, error) {
	query := `
		SELECT p.id, p.name, p.display_name, p.description, p.module, p.action, p.is_internal, p.created_at, p.updated_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		ORDER BY p.module ASC, p.name ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Store(err, "failed to get direct permissions")
	}
	defer rows.Close()

	var permissions []catalog.Permission
	for rows.Next() {
		var p catalog.Permission
		err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description, &p.Module, &p.Action, &p.IsInternal, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, apperrors.Store(err, "failed to scan direct permission")
		}
		permissions = append(permissions, p)
	}
	return permissions, rows.Err()
}
