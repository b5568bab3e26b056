package directory

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/teamgrid/authz/pkg/audit"
	"github.com/teamgrid/authz/pkg/contextkeys"
	"github.com/teamgrid/authz/pkg/httputil"
	"github.com/teamgrid/authz/pkg/rbac"
)

// Handlers provides the user and organisation admin surface. List endpoints
// are confined by the caller's resolved organisation scope.
type Handlers struct {
	store    *Store
	resolver *rbac.Resolver
	scope    *rbac.ScopeResolver
	emitter  audit.Emitter
}

// NewHandlers creates new directory handlers
func NewHandlers(store *Store, resolver *rbac.Resolver, scope *rbac.ScopeResolver, emitter audit.Emitter) *Handlers {
	return &Handlers{store: store, resolver: resolver, scope: scope, emitter: emitter}
}

// RegisterRoutes registers all directory routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id}/status", h.UpdateUserStatus).Methods("PUT")

	router.HandleFunc("/organisations", h.CreateOrganisation).Methods("POST")
	router.HandleFunc("/organisations", h.ListOrganisations).Methods("GET")
	router.HandleFunc("/organisations/{id}", h.GetOrganisation).Methods("GET")
}

// callerScope resolves the acting user's organisation confinement. Requests
// without an identified actor are rejected rather than given the
// unrestricted view.
func (h *Handlers) callerScope(w http.ResponseWriter, r *http.Request) (rbac.Scope, bool) {
	actor, ok := contextkeys.Actor(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "no acting user")
		return rbac.Scope{}, false
	}

	scope, err := h.scope.ResolveScope(r.Context(), actor)
	if err != nil {
		httputil.WriteResultError(w, err)
		return rbac.Scope{}, false
	}
	return scope, true
}

// CreateUser creates a user and clears any negatively cached entries for the
// new ID
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var params CreateUserParams
	if !httputil.ParseJSONOrError(w, r, &params) {
		return
	}

	user, err := h.store.CreateUser(r.Context(), params)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.resolver.InvalidateUser(r.Context(), user.ID, "user_create")
	h.recordAudit(r, audit.ActionUserCreate, audit.TargetUser, user.ID.String(), user)

	httputil.WriteResult(w, http.StatusCreated, user)
}

// ListUsers lists users within the caller's scope
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.callerScope(w, r)
	if !ok {
		return
	}

	users, err := h.store.ListUsers(r.Context(), scope)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// GetUser retrieves a single user
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// UpdateUserStatus moves a user between lifecycle states and drops their
// cached decision sets, so suspension takes effect immediately
func (h *Handlers) UpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.store.UpdateUserStatus(r.Context(), userID, req.Status)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.resolver.InvalidateUser(r.Context(), userID, "status_change")
	h.recordAudit(r, audit.ActionUserStatusUpdate, audit.TargetUser, userID.String(), map[string]string{"status": user.Status})

	httputil.WriteResult(w, http.StatusOK, user)
}

// CreateOrganisation creates an organisation
func (h *Handlers) CreateOrganisation(w http.ResponseWriter, r *http.Request) {
	var params CreateOrganisationParams
	if !httputil.ParseJSONOrError(w, r, &params) {
		return
	}

	org, err := h.store.CreateOrganisation(r.Context(), params)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}

	h.recordAudit(r, audit.ActionOrgCreate, audit.TargetOrganisation, org.ID.String(), org)

	httputil.WriteResult(w, http.StatusCreated, org)
}

// ListOrganisations lists organisations within the caller's scope
func (h *Handlers) ListOrganisations(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.callerScope(w, r)
	if !ok {
		return
	}

	orgs, err := h.store.ListOrganisations(r.Context(), scope)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if orgs == nil {
		orgs = []Organisation{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"organisations": orgs})
}

// GetOrganisation retrieves a single organisation
func (h *Handlers) GetOrganisation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	org, err := h.store.GetOrganisation(r.Context(), orgID)
	if err != nil {
		httputil.WriteResultError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, org)
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
