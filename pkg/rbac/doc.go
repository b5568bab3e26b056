// Package rbac implements role-based access control for the TeamGrid
// platform: boolean permission checks, role administration, direct grants,
// and organisation scope resolution.
//
// # Overview
//
// Access is expressed through three layers:
//
//  1. Permissions: catalog entries named "module.action" (see pkg/catalog)
//  2. Roles: named bundles of permissions, assigned to users
//  3. Direct grants: individual permissions attached straight to a user
//
// A user's effective permission set is the union of everything their active
// roles carry and everything granted to them directly. Holding a permission
// twice changes nothing about the decision; provenance is tracked only so
// admin UIs can tell which entries are removable per role versus per grant.
//
// # Checking Permissions
//
// The Resolver is the decision engine. It answers plain booleans and never
// returns an error to callers: a user that cannot be resolved, a suspended
// user, or a failing store all answer false.
//
//	resolver := rbac.NewResolver(db, cacheStore, metrics, logger)
//
//	if resolver.HasPermission(ctx, userID, "projects.create") {
//		// allowed
//	}
//
//	// At least one of / every one of
//	resolver.HasAnyPermission(ctx, userID, "projects.update", "projects.create")
//	resolver.HasAllPermissions(ctx, userID, "invoices.read", "invoices.export")
//
//	// Role membership, for coarse gates
//	resolver.HasAnyRole(ctx, userID, rbac.RoleAdmin, rbac.RoleSuperAdmin)
//
// EffectivePermissions returns the full computed set with provenance for
// admin grant editors, and does surface errors, since an editor needs to
// distinguish an empty set from a failed lookup.
//
// # Roles
//
// Roles come in two kinds. System roles (super_admin, admin, project_manager,
// member) are seeded by the migrations, keep their machine name for life and
// cannot be deleted. Custom roles are created by administrators, optionally
// tied to one organisation, and carry any subset of the catalog.
//
//	role, err := store.CreateRole(ctx, rbac.CreateRoleParams{
//		Name:          "billing_clerk",
//		DisplayName:   "Billing Clerk",
//		PermissionIDs: []int64{invoicesRead, invoicesExport},
//	})
//
// Updating a role replaces its whole permission set in one transaction and
// reports every user holding the role, so their cached decision sets can be
// dropped. Deactivating a role (is_active = false) silences it everywhere
// without touching its assignments.
//
// # Organisation Scope
//
// Independent of the boolean checks, the ScopeResolver decides which
// organisation a user's list and aggregate queries are confined to. An
// administrator of an ordinary customer organisation is restricted to their
// own organisation; administrators of internal organisations and all
// non-admin users are unrestricted (their visibility is governed by
// permission checks alone).
//
//	scope, err := scopeResolver.ResolveScope(ctx, userID)
//	if orgID := scope.OrganisationFilter(); orgID != nil {
//		query = query.Where("organisation_id = ?", orgID)
//	}
//
// # Caching
//
// The Resolver caches per user under four concern keys: the effective
// permission set, active role names, the admin flag, and the organisation's
// internal flag. Entries expire by the cache store's TTL, and every mutation
// path invalidates the affected users explicitly:
//
//	resolver.InvalidateUser(ctx, userID, "user_roles_change")
//	resolver.InvalidateUsers(ctx, holders, "role_change")
//
// Absent users are cached negatively so repeated checks against unknown IDs
// do not hammer the database. User creation must invalidate the new ID.
//
// # HTTP Surface
//
// Handlers exposes the decision endpoints (POST /authz/check and friends)
// and the administration endpoints for roles, assignments and grants, wired
// through gorilla/mux. RequirePermission and RequireAnyRole provide route
// middleware:
//
//	router.Handle("/projects",
//		rbac.RequirePermission(resolver, "projects.create")(createProject),
//	).Methods("POST")
//
// Administrative mutations write audit entries through pkg/audit and
// invalidate affected users before returning.
//
// # Schema
//
// Seven tables back the package: organisations, users, permissions, roles,
// role_permissions, user_roles and user_permissions, plus audit_logs.
// Migrations and the seed catalog live in migrations.go:
//
//	err := rbac.RunMigrations(ctx, db)
//	err = rbac.SeedData(ctx, db)
package rbac
