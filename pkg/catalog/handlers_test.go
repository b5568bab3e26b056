package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamgrid/authz/pkg/audit"
	"github.com/teamgrid/authz/pkg/contextkeys"
)

type stubVisibility struct {
	internal map[uuid.UUID]bool
}

func (s *stubVisibility) IsInternalOrg(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.internal[userID], nil
}

type recordingEmitter struct {
	entries []audit.Entry
}

func (r *recordingEmitter) Record(ctx context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func setupHandlers(t *testing.T) (*Handlers, *stubVisibility, *recordingEmitter, *mux.Router) {
	t.Helper()
	store := NewStore(setupTestDB(t))
	visibility := &stubVisibility{internal: make(map[uuid.UUID]bool)}
	emitter := &recordingEmitter{}
	handlers := NewHandlers(store, visibility, emitter)
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	return handlers, visibility, emitter, router
}

func doRequest(router *mux.Router, method, path string, body interface{}, actor *uuid.UUID) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req = req.WithContext(contextkeys.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_CreateAndListPermissions(t *testing.T) {
	_, visibility, emitter, router := setupHandlers(t)

	internalAdmin := uuid.New()
	visibility.internal[internalAdmin] = true

	rec := doRequest(router, "POST", "/permissions", map[string]interface{}{
		"name":         "documents.read",
		"display_name": "Read documents",
	}, &internalAdmin)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Success bool       `json:"success"`
		Data    Permission `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.Equal(t, "documents", created.Data.Module)

	require.Len(t, emitter.entries, 1)
	assert.Equal(t, audit.ActionPermissionCreate, emitter.entries[0].ActionType)
	require.NotNil(t, emitter.entries[0].ChangedBy)
	assert.Equal(t, internalAdmin, *emitter.entries[0].ChangedBy)

	rec = doRequest(router, "GET", "/permissions", nil, &internalAdmin)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Permissions []Permission `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Permissions, 1)
}

func TestHandlers_InternalEntriesHiddenFromExternalActors(t *testing.T) {
	handlers, visibility, _, router := setupHandlers(t)

	internalAdmin := uuid.New()
	externalAdmin := uuid.New()
	visibility.internal[internalAdmin] = true

	require.NoError(t, handlers.store.CreatePermission(context.Background(), &Permission{
		Name: "reports.view_all", DisplayName: "View all reports", IsInternal: true,
	}))
	require.NoError(t, handlers.store.CreatePermission(context.Background(), &Permission{
		Name: "reports.read", DisplayName: "Read own reports",
	}))

	rec := doRequest(router, "GET", "/permissions", nil, &externalAdmin)
	var listed struct {
		Permissions []Permission `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Permissions, 1)
	assert.Equal(t, "reports.read", listed.Permissions[0].Name)

	rec = doRequest(router, "GET", "/permissions", nil, &internalAdmin)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Permissions, 2)

	// No actor at all behaves like an external one.
	rec = doRequest(router, "GET", "/permissions/reports.view_all", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(router, "GET", "/permissions/reports.view_all", nil, &internalAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_CreatePermission_ValidationEnvelope(t *testing.T) {
	_, _, _, router := setupHandlers(t)

	rec := doRequest(router, "POST", "/permissions", map[string]interface{}{
		"name":         "NotValid",
		"display_name": "x",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Field   string `json:"field"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "VALIDATION_ERROR", result.Error)
	assert.Equal(t, "name", result.Field)
}

func TestHandlers_UpdatePermission(t *testing.T) {
	handlers, _, emitter, router := setupHandlers(t)

	p := &Permission{Name: "threads.update", DisplayName: "Edit threads"}
	require.NoError(t, handlers.store.CreatePermission(context.Background(), p))

	actor := uuid.New()
	rec := doRequest(router, "PUT", "/permissions/1", map[string]interface{}{
		"display_name": "Edit discussion threads",
		"is_internal":  false,
	}, &actor)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := handlers.store.GetPermission(context.Background(), "threads.update")
	require.NoError(t, err)
	assert.Equal(t, "Edit discussion threads", updated.DisplayName)

	require.Len(t, emitter.entries, 1)
	assert.Equal(t, audit.ActionPermissionUpdate, emitter.entries[0].ActionType)
}
