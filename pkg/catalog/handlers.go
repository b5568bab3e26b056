package catalog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/teamgrid/authz/pkg/apperrors"
	"github.com/teamgrid/authz/pkg/audit"
	"github.com/teamgrid/authz/pkg/contextkeys"
	"github.com/teamgrid/authz/pkg/httputil"
)

// InternalVisibility answers whether a user's organisation is internal, which
// controls whether is_internal catalog entries appear in their listings.
type InternalVisibility interface {
	IsInternalOrg(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Handlers provides HTTP handlers for catalog administration
type Handlers struct {
	store      *Store
	visibility InternalVisibility
	emitter    audit.Emitter
}

// NewHandlers creates new catalog handlers
func NewHandlers(store *Store, visibility InternalVisibility, emitter audit.Emitter) *Handlers {
	return &Handlers{store: store, visibility: visibility, emitter: emitter}
}

// RegisterRoutes registers the catalog routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/permissions", h.CreatePermission).Methods("POST")
	router.HandleFunc("/permissions/{name}", h.GetPermission).Methods("GET")
	router.HandleFunc("/permissions/{id:[0-9]+}", h.UpdatePermission).Methods("PUT")
}

// includeInternal resolves whether the calling actor may see internal
// entries. Unknown actors and resolution failures both hide them.
func (h *Handlers) includeInternal(ctx context.Context) bool {
	actor, ok := contextkeys.Actor(ctx)
	if !ok || h.visibility == nil {
		return false
	}
	internal, err := h.visibility.IsInternalOrg(ctx, actor)
	if err != nil {
		return false
	}
	return internal
}

// ListPermissions returns the catalog ordered by module then name
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	permissions, err := h.store.ListPermissions(ctx, h.includeInternal(ctx))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if permissions == nil {
		permissions = []Permission{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"permissions": permissions,
	})
}

// GetPermission returns a single catalog entry by name
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name, err := httputil.ParsePathString(r, "name")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	permission, err := h.store.GetPermission(ctx, name)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}
	if permission.IsInternal && !h.includeInternal(ctx) {
		httputil.WriteResultError(w, apperrors.NotFound("permission not found: %s", name))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, permission)
}

// CreatePermission adds a new catalog entry
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Description string `json:"description"`
		IsInternal  bool   `json:"is_internal"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	permission := &Permission{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		IsInternal:  req.IsInternal,
	}
	if err := h.store.CreatePermission(ctx, permission); err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.recordAudit(ctx, r, audit.ActionPermissionCreate, permission)

	httputil.WriteResult(w, http.StatusCreated, permission)
}

// UpdatePermission changes the mutable fields of a catalog entry
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid permission id")
		return
	}

	var req struct {
		DisplayName string `json:"display_name"`
		Description string `json:"description"`
		IsInternal  bool   `json:"is_internal"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	permission, err := h.store.UpdatePermission(ctx, id, req.DisplayName, req.Description, req.IsInternal)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.recordAudit(ctx, r, audit.ActionPermissionUpdate, permission)

	httputil.WriteResult(w, http.StatusOK, permission)
}

func (h *Handlers) recordAudit(ctx context.Context, r *http.Request, action audit.ActionType, permission *Permission) {
	if h.emitter == nil {
		return
	}

	entry := audit.Entry{
		TargetID:   strconv.FormatInt(permission.ID, 10),
		TargetType: audit.TargetPermission,
		ActionType: action,
		NewValue:   audit.MarshalValue(permission),
		IPAddress:  r.RemoteAddr,
		RequestID:  contextkeys.RequestID(ctx),
	}
	if actor, ok := contextkeys.Actor(ctx); ok {
		entry.ChangedBy = &actor
	}

	h.emitter.Record(ctx, entry)
}
