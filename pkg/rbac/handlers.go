package rbac

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/teamgrid/authz/pkg/audit"
	"github.com/teamgrid/authz/pkg/contextkeys"
	"github.com/teamgrid/authz/pkg/httputil"
)

// Handlers provides the HTTP surface for checks, role administration and
// grant administration
type Handlers struct {
	store    *Store
	resolver *Resolver
	scope    *ScopeResolver
	emitter  audit.Emitter
}

// NewHandlers creates new rbac handlers
func NewHandlers(resolver *Resolver, scope *ScopeResolver, emitter audit.Emitter) *Handlers {
	return &Handlers{
		store:    resolver.Store(),
		resolver: resolver,
		scope:    scope,
		emitter:  emitter,
	}
}

// RegisterRoutes registers all rbac routes on one router. Servers that
// guard the admin surface mount the two groups on separate subrouters.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	h.RegisterDecisionRoutes(router)
	h.RegisterAdminRoutes(router)
}

// RegisterDecisionRoutes registers the check surface
func (h *Handlers) RegisterDecisionRoutes(router *mux.Router) {
	router.HandleFunc("/authz/check", h.Check).Methods("POST")
	router.HandleFunc("/authz/check-any", h.CheckAny).Methods("POST")
	router.HandleFunc("/authz/check-all", h.CheckAll).Methods("POST")
	router.HandleFunc("/authz/check-roles", h.CheckRoles).Methods("POST")
	router.HandleFunc("/authz/users/{id}/permissions", h.GetEffectivePermissions).Methods("GET")
	router.HandleFunc("/authz/users/{id}/scope", h.GetScope).Methods("GET")
}

// RegisterAdminRoutes registers role administration, assignment and grant
// routes
func (h *Handlers) RegisterAdminRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles/system", h.ListSystemRoles).Methods("GET")
	router.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{id}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")

	// User role assignments and direct grants
	router.HandleFunc("/users/{id}/roles", h.GetUserRoles).Methods("GET")
	router.HandleFunc("/users/{id}/roles", h.UpdateUserRoles).Methods("PUT")
	router.HandleFunc("/users/{id}/grants", h.GetDirectPermissions).Methods("GET")
	router.HandleFunc("/users/{id}/grants", h.GrantPermission).Methods("POST")
	router.HandleFunc("/users/{id}/grants/{permission_id}", h.RevokePermission).Methods("DELETE")
}

// Check answers a single boolean permission check
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     uuid.UUID `json:"user_id"`
		Permission string    `json:"permission"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil || req.Permission == "" {
		httputil.WriteBadRequest(w, "user_id and permission are required")
		return
	}

	allowed := h.resolver.HasPermission(r.Context(), req.UserID, req.Permission)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

type multiCheckRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	Permissions []string  `json:"permissions"`
}

func (h *Handlers) multiCheck(w http.ResponseWriter, r *http.Request, check func(context.Context, uuid.UUID, ...string) bool) {
	var req multiCheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil || len(req.Permissions) == 0 {
		httputil.WriteBadRequest(w, "user_id and permissions are required")
		return
	}

	allowed := check(r.Context(), req.UserID, req.Permissions...)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// CheckAny answers whether the user holds at least one of the permissions
func (h *Handlers) CheckAny(w http.ResponseWriter, r *http.Request) {
	h.multiCheck(w, r, h.resolver.HasAnyPermission)
}

// CheckAll answers whether the user holds every one of the permissions
func (h *Handlers) CheckAll(w http.ResponseWriter, r *http.Request) {
	h.multiCheck(w, r, h.resolver.HasAllPermissions)
}

// CheckRoles answers whether the user holds at least one of the named roles
func (h *Handlers) CheckRoles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID uuid.UUID `json:"user_id"`
		Roles  []string  `json:"roles"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil || len(req.Roles) == 0 {
		httputil.WriteBadRequest(w, "user_id and roles are required")
		return
	}

	allowed := h.resolver.HasAnyRole(r.Context(), req.UserID, req.Roles...)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// GetEffectivePermissions returns the user's computed permission set with
// provenance, for admin grant editors
func (h *Handlers) GetEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	permissions, err := h.resolver.EffectivePermissions(r.Context(), userID)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"permissions": permissions,
	})
}

// GetScope returns the organisation confinement for the user
func (h *Handlers) GetScope(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	scope, err := h.scope.ResolveScope(r.Context(), userID)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, scope)
}

// CreateRole creates a role with its permission set
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var params CreateRoleParams
	if !httputil.ParseJSONOrError(w, r, &params) {
		return
	}

	role, err := h.store.CreateRole(r.Context(), params)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.recordAudit(r, audit.ActionRoleCreate, audit.TargetRole, role.ID.String(), role)

	httputil.WriteResult(w, http.StatusCreated, role)
}

// ListRoles lists every role with its permission set
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

// ListSystemRoles lists the system-defined roles
func (h *Handlers) ListSystemRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListSystemRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

// GetRole retrieves a single role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, role)
}

// UpdateRole updates a role, replacing its whole permission set, and
// invalidates every holder's cache entries
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var params UpdateRoleParams
	if !httputil.ParseJSONOrError(w, r, &params) {
		return
	}

	role, holders, err := h.store.UpdateRole(r.Context(), roleID, params)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.resolver.InvalidateUsers(r.Context(), holders, "role_change")
	h.recordAudit(r, audit.ActionRoleUpdate, audit.TargetRole, role.ID.String(), role)

	httputil.WriteResult(w, http.StatusOK, role)
}

// DeleteRole deletes a non-system role, cascading its links and invalidating
// every holder
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	holders, err := h.store.DeleteRole(r.Context(), roleID)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.resolver.InvalidateUsers(r.Context(), holders, "role_delete")
	h.recordAudit(r, audit.ActionRoleDelete, audit.TargetRole, roleID.String(), nil)

	httputil.WriteResult(w, http.StatusOK, nil)
}

// GetUserRoles lists a user's role assignments
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	userRoles, err := h.store.GetUserRoles(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if userRoles == nil {
		userRoles = []UserRole{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user_roles": userRoles})
}

// UpdateUserRoles replaces a user's whole role assignment set
func (h *Handlers) UpdateUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		RoleIDs []uuid.UUID `json:"role_ids"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.store.UpdateUserRoles(r.Context(), userID, req.RoleIDs); err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.resolver.InvalidateUser(r.Context(), userID, "user_roles_change")
	h.recordAudit(r, audit.ActionUserRolesUpdate, audit.TargetUser, userID.String(), req.RoleIDs)

	httputil.WriteResult(w, http.StatusOK, nil)
}

// GetDirectPermissions lists a user's direct grants
func (h *Handlers) GetDirectPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	permissions, err := h.store.GetDirectPermissions(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"permissions": permissions})
}

// GrantPermission adds a direct grant to a user
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		PermissionID int64 `json:"permission_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.store.GrantDirectPermission(r.Context(), userID, req.PermissionID); err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.resolver.InvalidateUser(r.Context(), userID, "direct_grant_change")
	h.recordAudit(r, audit.ActionGrantAdd, audit.TargetUser, userID.String(), req)

	httputil.WriteResult(w, http.StatusOK, nil)
}

// RevokePermission removes a direct grant. If a role still carries the
// permission, the user keeps it with from_role provenance.
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	permissionIDStr, err := httputil.ParsePathString(r, "permission_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	permissionID, err := strconv.ParseInt(permissionIDStr, 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid permission id")
		return
	}

	if err := h.store.RevokeDirectPermission(r.Context(), userID, permissionID); err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.resolver.InvalidateUser(r.Context(), userID, "direct_grant_change")
	h.recordAudit(r, audit.ActionGrantRevoke, audit.TargetUser, userID.String(), map[string]int64{"permission_id": permissionID})

	httputil.WriteResult(w, http.StatusOK, nil)
}

func (h *Handlers) recordAudit(r *http.Request, action audit.ActionType, targetType audit.TargetType, targetID string, newValue interface{}) {
	if h.emitter == nil {
		return
	}

	ctx := r.Context()
	entry := audit.Entry{
		TargetID:   targetID,
		TargetType: targetType,
		ActionType: action,
		NewValue:   audit.MarshalValue(newValue),
		IPAddress:  r.RemoteAddr,
		RequestID:  contextkeys.RequestID(ctx),
	}
	if actor, ok := contextkeys.Actor(ctx); ok {
		entry.ChangedBy = &actor
	}

	h.emitter.Record(ctx, entry)
}
