package rbac

import (
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teamgrid/authz/pkg/cache"
	"github.com/teamgrid/authz/pkg/observability"
)

// testSchema mirrors the postgres migrations in sqlite form.
const testSchema = `
	CREATE TABLE organisations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active',
		is_internal INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE users (
		id TEXT PRIMARY KEY,
		organisation_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		module TEXT NOT NULL,
		action TEXT NOT NULL,
		is_internal INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_system_role INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		organisation_id TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE role_permissions (
		role_id TEXT NOT NULL,
		permission_id INTEGER NOT NULL,
		PRIMARY KEY (role_id, permission_id)
	);

	CREATE TABLE user_roles (
		user_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, role_id)
	);

	CREATE TABLE user_permissions (
		user_id TEXT NOT NULL,
		permission_id INTEGER NOT NULL,
		granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, permission_id)
	);
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every pooled sqlite connection opens its own :memory: database, so a
	// second connection would see no schema. Keep the pool at one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}
	return db
}

func newTestResolver(t *testing.T, db *sql.DB) *Resolver {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	store := cache.NewMemory(cache.DefaultMaxEntries, time.Minute)
	return NewResolver(db, store, metrics, logger)
}

func newTestScopeResolver(t *testing.T, db *sql.DB) *ScopeResolver {
	t.Helper()
	return newTestScopeResolverWithCache(t, db, cache.NewMemory(cache.DefaultMaxEntries, time.Minute))
}

func newTestScopeResolverWithCache(t *testing.T, db *sql.DB, store cache.Store) *ScopeResolver {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewScopeResolver(db, store, metrics, logger)
}

func createTestOrg(t *testing.T, db *sql.DB, slug string, internal bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(
		`INSERT INTO organisations (id, name, slug, status, is_internal) VALUES ($1, $2, $3, 'active', $4)`,
		id, slug, slug, internal,
	)
	if err != nil {
		t.Fatalf("Failed to create test organisation: %v", err)
	}
	return id
}

func createTestUser(t *testing.T, db *sql.DB, orgID uuid.UUID, email, status string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(
		`INSERT INTO users (id, organisation_id, name, email, status) VALUES ($1, $2, $3, $4, $5)`,
		id, orgID, email, email, status,
	)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return id
}

func createTestPermission(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	module, action := splitPermissionName(name)
	var id int64
	err := db.QueryRow(
		`INSERT INTO permissions (name, display_name, module, action) VALUES ($1, $2, $3, $4) RETURNING id`,
		name, name, module, action,
	).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create test permission: %v", err)
	}
	return id
}

func createTestRole(t *testing.T, db *sql.DB, name string, system, active bool, permissionIDs ...int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(
		`INSERT INTO roles (id, name, display_name, is_system_role, is_active) VALUES ($1, $2, $3, $4, $5)`,
		id, name, name, system, active,
	)
	if err != nil {
		t.Fatalf("Failed to create test role: %v", err)
	}
	for _, pid := range permissionIDs {
		if _, err := db.Exec(`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, id, pid); err != nil {
			t.Fatalf("Failed to link test role permission: %v", err)
		}
	}
	return id
}

func assignTestRole(t *testing.T, db *sql.DB, userID, roleID uuid.UUID) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID); err != nil {
		t.Fatalf("Failed to assign test role: %v", err)
	}
}

func grantTestPermission(t *testing.T, db *sql.DB, userID uuid.UUID, permissionID int64) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2)`, userID, permissionID); err != nil {
		t.Fatalf("Failed to grant test permission: %v", err)
	}
}
