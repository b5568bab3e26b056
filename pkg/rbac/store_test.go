package rbac

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamgrid/authz/pkg/apperrors"
)

func TestStore_CreateRole(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	readID := createTestPermission(t, db, "projects.read")
	createID := createTestPermission(t, db, "projects.create")

	role, err := store.CreateRole(ctx, CreateRoleParams{
		Name:          "project_lead",
		DisplayName:   "Project Lead",
		Description:   "Runs day to day project work",
		PermissionIDs: []int64{readID, createID},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, role.ID)
	assert.False(t, role.IsSystemRole)
	assert.True(t, role.IsActive)
	require.Len(t, role.Permissions, 2)
	assert.Equal(t, "projects.create", role.Permissions[0].Name)
	assert.Equal(t, "projects.read", role.Permissions[1].Name)
}

func TestStore_CreateRole_Validation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	readID := createTestPermission(t, db, "projects.read")

	tests := []struct {
		name   string
		params CreateRoleParams
		kind   apperrors.Kind
		field  string
	}{
		{
			"bad machine name",
			CreateRoleParams{Name: "Project-Lead", DisplayName: "x", PermissionIDs: []int64{readID}},
			apperrors.KindValidation, "name",
		},
		{
			"empty permission set",
			CreateRoleParams{Name: "project_lead", DisplayName: "x", PermissionIDs: nil},
			apperrors.KindValidation, "permission_ids",
		},
		{
			"unknown permission id",
			CreateRoleParams{Name: "project_lead", DisplayName: "x", PermissionIDs: []int64{readID, 9999}},
			apperrors.KindValidation, "permission_ids",
		},
		{
			"missing display name",
			CreateRoleParams{Name: "project_lead", PermissionIDs: []int64{readID}},
			apperrors.KindValidation, "display_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateRole(ctx, tt.params)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, tt.kind))
			assert.Equal(t, tt.field, apperrors.From(err).Field)
		})
	}
}

func TestStore_CreateRole_DuplicateName(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	readID := createTestPermission(t, db, "projects.read")
	createTestRole(t, db, "builder", false, true, readID)

	_, err := store.CreateRole(ctx, CreateRoleParams{
		Name: "builder", DisplayName: "Builder", PermissionIDs: []int64{readID},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestStore_UpdateRole_ReplacesWholePermissionSet(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	readID := createTestPermission(t, db, "tasks.read")
	createID := createTestPermission(t, db, "tasks.create")
	deleteID := createTestPermission(t, db, "tasks.delete")

	orgID := createTestOrg(t, db, "acme", false)
	userID := createTestUser(t, db, orgID, "dev@acme.test", "active")
	roleID := createTestRole(t, db, "worker", false, true, readID, createID)
	assignTestRole(t, db, userID, roleID)

	role, holders, err := store.UpdateRole(ctx, roleID, UpdateRoleParams{
		Name:          "worker",
		DisplayName:   "Worker",
		IsActive:      true,
		PermissionIDs: []int64{deleteID},
	})
	require.NoError(t, err)
	require.Len(t, role.Permissions, 1)
	assert.Equal(t, "tasks.delete", role.Permissions[0].Name)
	require.Len(t, holders, 1)
	assert.Equal(t, userID, holders[0])
}

func TestStore_UpdateRole_SystemRoleRenameForbidden(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	readID := createTestPermission(t, db, "projects.read")
	roleID := createTestRole(t, db, "admin", true, true, readID)

	_, _, err := store.UpdateRole(ctx, roleID, UpdateRoleParams{
		Name:          "administrator",
		DisplayName:   "Administrator",
		IsActive:      true,
		PermissionIDs: []int64{readID},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))

	// Same name with other field changes is fine.
	role, _, err := store.UpdateRole(ctx, roleID, UpdateRoleParams{
		Name:          "admin",
		DisplayName:   "Administrator",
		IsActive:      true,
		PermissionIDs: []int64{readID},
	})
	require.NoError(t, err)
	assert.Equal(t, "Administrator", role.DisplayName)
}

func TestStore_DeleteRole_CascadesAndReportsHolders(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	readID := createTestPermission(t, db, "projects.read")
	orgID := createTestOrg(t, db, "acme", false)
	alice := createTestUser(t, db, orgID, "alice@acme.test", "active")
	bob := createTestUser(t, db, orgID, "bob@acme.test", "active")

	roleID := createTestRole(t, db, "builder", false, true, readID)
	assignTestRole(t, db, alice, roleID)
	assignTestRole(t, db, bob, roleID)

	holders, err := store.DeleteRole(ctx, roleID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{alice, bob}, holders)

	_, err = store.GetRole(ctx, roleID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	var links int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM role_permissions WHERE role_id = $1`, roleID).Scan(&links))
	assert.Zero(t, links)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&links))
	assert.Zero(t, links)
}

func TestStore_DeleteRole_SystemRoleForbidden(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	readID := createTestPermission(t, db, "projects.read")
	roleID := createTestRole(t, db, "super_admin", true, true, readID)

	_, err := store.DeleteRole(ctx, roleID)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))

	_, err = store.GetRole(ctx, roleID)
	assert.NoError(t, err)
}

func TestStore_ListSystemRoles(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	readID := createTestPermission(t, db, "projects.read")
	createTestRole(t, db, "admin", true, true, readID)
	createTestRole(t, db, "member", true, true, readID)
	createTestRole(t, db, "custom", false, true, readID)

	roles, err := store.ListSystemRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "admin", roles[0].Name)
	assert.Equal(t, "member", roles[1].Name)
}

func TestStore_UpdateUserRoles_ReplacesAssignmentSet(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	readID := createTestPermission(t, db, "projects.read")
	orgID := createTestOrg(t, db, "acme", false)
	userID := createTestUser(t, db, orgID, "dev@acme.test", "active")

	first := createTestRole(t, db, "first", false, true, readID)
	second := createTestRole(t, db, "second", false, true, readID)
	third := createTestRole(t, db, "third", false, true, readID)
	assignTestRole(t, db, userID, first)

	require.NoError(t, store.UpdateUserRoles(ctx, userID, []uuid.UUID{second, third}))

	userRoles, err := store.GetUserRoles(ctx, userID)
	require.NoError(t, err)
	names := make([]string, len(userRoles))
	for i, ur := range userRoles {
		names[i] = ur.Role.Name
	}
	assert.ElementsMatch(t, []string{"second", "third"}, names)

	// Empty set removes everything.
	require.NoError(t, store.UpdateUserRoles(ctx, userID, nil))
	userRoles, err = store.GetUserRoles(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, userRoles)
}

func TestStore_UpdateUserRoles_UnknownRoleRejected(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	orgID := createTestOrg(t, db, "acme", false)
	userID := createTestUser(t, db, orgID, "dev@acme.test", "active")
	readID := createTestPermission(t, db, "projects.read")
	roleID := createTestRole(t, db, "real", false, true, readID)
	assignTestRole(t, db, userID, roleID)

	err := store.UpdateUserRoles(ctx, userID, []uuid.UUID{roleID, uuid.New()})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	// The transaction never started, so the old assignment survives.
	userRoles, err := store.GetUserRoles(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, userRoles, 1)
}

func TestStore_DirectGrants(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	orgID := createTestOrg(t, db, "acme", false)
	userID := createTestUser(t, db, orgID, "dev@acme.test", "active")
	exportID := createTestPermission(t, db, "invoices.export")

	require.NoError(t, store.GrantDirectPermission(ctx, userID, exportID))
	// Granting twice is a no-op, not an error.
	require.NoError(t, store.GrantDirectPermission(ctx, userID, exportID))

	permissions, err := store.GetDirectPermissions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, permissions, 1)
	assert.Equal(t, "invoices.export", permissions[0].Name)

	err = store.GrantDirectPermission(ctx, userID, 9999)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	require.NoError(t, store.RevokeDirectPermission(ctx, userID, exportID))
	permissions, err = store.GetDirectPermissions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, permissions)
}
