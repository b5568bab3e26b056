package catalog

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamgrid/authz/pkg/apperrors"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			module TEXT NOT NULL,
			action TEXT NOT NULL,
			is_internal INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)

	return db
}

func mustCreate(t *testing.T, store *Store, name, displayName string, internal bool) *Permission {
	t.Helper()
	p := &Permission{Name: name, DisplayName: displayName, IsInternal: internal}
	require.NoError(t, store.CreatePermission(context.Background(), p))
	return p
}

func TestStore_CreatePermission(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	p := &Permission{
		Name:        "projects.read",
		DisplayName: "Read projects",
		Description: "View project listings and detail pages",
	}
	require.NoError(t, store.CreatePermission(ctx, p))
	assert.NotZero(t, p.ID)
	assert.Equal(t, "projects", p.Module)
	assert.Equal(t, "read", p.Action)

	got, err := store.GetPermission(ctx, "projects.read")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "Read projects", got.DisplayName)
}

func TestStore_CreatePermission_Validation(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	tests := []struct {
		name       string
		permission Permission
		field      string
	}{
		{"missing dot", Permission{Name: "projectsread", DisplayName: "x"}, "name"},
		{"uppercase", Permission{Name: "Projects.Read", DisplayName: "x"}, "name"},
		{"leading underscore", Permission{Name: "_projects.read", DisplayName: "x"}, "name"},
		{"empty display name", Permission{Name: "projects.read", DisplayName: ""}, "display_name"},
		{"mismatched module", Permission{Name: "projects.read", DisplayName: "x", Module: "tasks"}, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.permission
			err := store.CreatePermission(ctx, &p)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
			assert.Equal(t, tt.field, apperrors.From(err).Field)
		})
	}
}

func TestStore_CreatePermission_DuplicateName(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	mustCreate(t, store, "tasks.create", "Create tasks", false)

	err := store.CreatePermission(ctx, &Permission{Name: "tasks.create", DisplayName: "Again"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	assert.Equal(t, "name", apperrors.From(err).Field)
}

func TestStore_GetPermission_NotFound(t *testing.T) {
	store := NewStore(setupTestDB(t))

	_, err := store.GetPermission(context.Background(), "ghosts.read")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestStore_ListPermissions(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	mustCreate(t, store, "wiki.read", "Read wiki", false)
	mustCreate(t, store, "projects.read", "Read projects", false)
	mustCreate(t, store, "projects.archive", "Archive projects", false)
	mustCreate(t, store, "reports.view_all", "View all reports", true)

	visible, err := store.ListPermissions(ctx, false)
	require.NoError(t, err)
	require.Len(t, visible, 3)
	// Ordered by module then name; the internal entry is hidden.
	assert.Equal(t, "projects.archive", visible[0].Name)
	assert.Equal(t, "projects.read", visible[1].Name)
	assert.Equal(t, "wiki.read", visible[2].Name)

	all, err := store.ListPermissions(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_UpdatePermission(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	p := mustCreate(t, store, "invoices.export", "Export invoices", false)

	updated, err := store.UpdatePermission(ctx, p.ID, "Export invoice data", "CSV and PDF export", true)
	require.NoError(t, err)
	assert.Equal(t, "Export invoice data", updated.DisplayName)
	assert.Equal(t, "CSV and PDF export", updated.Description)
	assert.True(t, updated.IsInternal)
	// Identity never changes.
	assert.Equal(t, "invoices.export", updated.Name)
	assert.Equal(t, "invoices", updated.Module)

	_, err = store.UpdatePermission(ctx, 9999, "x", "", false)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	_, err = store.UpdatePermission(ctx, p.ID, "", "", false)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}
