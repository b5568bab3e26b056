package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/teamgrid/authz/pkg/httputil"
)

// Handlers exposes the audit search surface
type Handlers struct {
	store *DBEmitter
}

// NewHandlers creates audit HTTP handlers
func NewHandlers(store *DBEmitter) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers the audit routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit", h.Search).Methods("GET")
}

// Search returns audit entries matching query parameters, newest first
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := Filter{
		TargetID:   q.Get("target_id"),
		TargetType: TargetType(q.Get("target_type")),
		ActionType: ActionType(q.Get("action_type")),
		Limit:      httputil.QueryInt(r, "limit", 100),
		Offset:     httputil.QueryInt(r, "offset", 0),
	}

	if changedBy := q.Get("changed_by"); changedBy != "" {
		id, err := uuid.Parse(changedBy)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid changed_by: must be a UUID")
			return
		}
		filter.ChangedBy = &id
	}
	if start := q.Get("start"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid start: must be RFC3339")
			return
		}
		filter.StartTime = &t
	}
	if end := q.Get("end"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid end: must be RFC3339")
			return
		}
		filter.EndTime = &t
	}

	entries, err := h.store.Search(ctx, filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}
