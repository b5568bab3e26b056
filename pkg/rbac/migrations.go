package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all authorization engine migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organisations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organisations (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL UNIQUE,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					is_internal BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_organisations_slug ON organisations(slug);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					organisation_id UUID NOT NULL REFERENCES organisations(id),
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL UNIQUE,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_organisation_id ON users(organisation_id);
				CREATE INDEX idx_users_email ON users(email);
			`,
		},
		{
			Version:     3,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					module VARCHAR(100) NOT NULL,
					action VARCHAR(100) NOT NULL,
					is_internal BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_permissions_module ON permissions(module);
			`,
		},
		{
			Version:     4,
			Description: "Create roles and role_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					organisation_id UUID REFERENCES organisations(id) ON DELETE CASCADE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_roles_name ON roles(name);
				CREATE INDEX idx_roles_organisation_id ON roles(organisation_id);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     5,
			Description: "Create user_roles and user_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX idx_user_roles_role_id ON user_roles(role_id);

				CREATE TABLE IF NOT EXISTS user_permissions (
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, permission_id)
				);

				CREATE INDEX idx_user_permissions_permission_id ON user_permissions(permission_id);
			`,
		},
		{
			Version:     6,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					target_id VARCHAR(255) NOT NULL,
					target_type VARCHAR(50) NOT NULL,
					action_type VARCHAR(100) NOT NULL,
					new_value JSONB,
					changed_by UUID,
					ip_address VARCHAR(45),
					request_id VARCHAR(100),
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_logs_created_at ON audit_logs(created_at DESC);
				CREATE INDEX idx_audit_logs_target ON audit_logs(target_type, target_id);
				CREATE INDEX idx_audit_logs_changed_by ON audit_logs(changed_by);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// seedPermission is one catalog entry installed at migration time
type seedPermission struct {
	name        string
	displayName string
	internal    bool
}

// SeedCatalogPermissions returns the permission catalog installed on a fresh
// database: standard CRUD verbs for every platform module plus the custom
// verbs the platform features use.
func SeedCatalogPermissions() []seedPermission {
	modules := []string{
		"projects", "tasks", "documents", "wiki", "threads",
		"invoices", "users", "organisations", "roles", "reports",
	}
	actions := []string{"read", "create", "update", "delete"}

	var seeds []seedPermission
	for _, module := range modules {
		for _, action := range actions {
			seeds = append(seeds, seedPermission{
				name:        module + "." + action,
				displayName: fmt.Sprintf("%s: %s", module, action),
			})
		}
	}

	seeds = append(seeds,
		seedPermission{name: "users.assign_roles", displayName: "users: assign roles"},
		seedPermission{name: "projects.archive", displayName: "projects: archive"},
		seedPermission{name: "invoices.export", displayName: "invoices: export"},
		seedPermission{name: "reports.view_all", displayName: "reports: view all", internal: true},
	)
	return seeds
}

// systemRoleSeed describes one seeded system role. A nil permission filter
// means every catalog permission.
type systemRoleSeed struct {
	name        string
	displayName string
	permissions []string
}

func systemRoleSeeds() []systemRoleSeed {
	return []systemRoleSeed{
		{
			name:        RoleSuperAdmin,
			displayName: "Super Administrator",
			permissions: nil,
		},
		{
			name:        RoleAdmin,
			displayName: "Administrator",
			permissions: []string{
				"projects.read", "projects.create", "projects.update", "projects.delete", "projects.archive",
				"tasks.read", "tasks.create", "tasks.update", "tasks.delete",
				"documents.read", "documents.create", "documents.update", "documents.delete",
				"wiki.read", "wiki.create", "wiki.update", "wiki.delete",
				"threads.read", "threads.create", "threads.update", "threads.delete",
				"invoices.read", "invoices.create", "invoices.update", "invoices.export",
				"users.read", "users.create", "users.update", "users.assign_roles",
				"organisations.read", "roles.read", "roles.create", "roles.update", "roles.delete",
				"reports.read",
			},
		},
		{
			name:        RoleProjectManager,
			displayName: "Project Manager",
			permissions: []string{
				"projects.read", "projects.create", "projects.update", "projects.archive",
				"tasks.read", "tasks.create", "tasks.update", "tasks.delete",
				"documents.read", "documents.create", "documents.update",
				"wiki.read", "wiki.create", "wiki.update",
				"threads.read", "threads.create", "threads.update",
				"reports.read", "users.read",
			},
		},
		{
			name:        RoleMember,
			displayName: "Member",
			permissions: []string{
				"projects.read", "tasks.read", "tasks.create", "tasks.update",
				"documents.read", "wiki.read", "threads.read", "threads.create",
			},
		},
	}
}

// SeedData installs the permission catalog and system roles on a fresh
// database. Existing entries are left alone, so re-running is safe.
func SeedData(ctx context.Context, db *sql.DB) error {
	now := time.Now().UTC()

	for _, seed := range SeedCatalogPermissions() {
		var exists bool
		err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM permissions WHERE name = $1)`, seed.name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check seed permission %s: %w", seed.name, err)
		}
		if exists {
			continue
		}

		module, action := splitPermissionName(seed.name)
		_, err = db.ExecContext(ctx, `
			INSERT INTO permissions (name, display_name, description, module, action, is_internal, created_at, updated_at)
			VALUES ($1, $2, '', $3, $4, $5, $6, $7)`,
			seed.name, seed.displayName, module, action, seed.internal, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", seed.name, err)
		}
	}

	for _, seed := range systemRoleSeeds() {
		var exists bool
		err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM roles WHERE name = $1)`, seed.name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check system role %s: %w", seed.name, err)
		}
		if exists {
			continue
		}

		roleID := uuid.New()
		_, err = db.ExecContext(ctx, `
			INSERT INTO roles (id, name, display_name, description, is_system_role, is_active, organisation_id, created_at, updated_at)
			VALUES ($1, $2, $3, '', TRUE, TRUE, NULL, $4, $5)`,
			roleID, seed.name, seed.displayName, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to seed system role %s: %w", seed.name, err)
		}

		linkQuery := `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions
		`
		args := []interface{}{roleID}
		if seed.permissions != nil {
			linkQuery += ` WHERE name IN (` + placeholders(2, len(seed.permissions)) + `)`
			for _, name := range seed.permissions {
				args = append(args, name)
			}
		}
		if _, err := db.ExecContext(ctx, linkQuery, args...); err != nil {
			return fmt.Errorf("failed to seed permissions for role %s: %w", seed.name, err)
		}
	}

	return nil
}

func splitPermissionName(name string) (module, action string) {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}
