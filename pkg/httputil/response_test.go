package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamgrid/authz/pkg/apperrors"
)

func TestWriteResult(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteResult(rec, http.StatusCreated, map[string]string{"id": "r1"}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
}

func TestWriteResultError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantField  string
	}{
		{"forbidden", apperrors.Forbidden("system role"), http.StatusForbidden, "FORBIDDEN", ""},
		{"validation", apperrors.Validation("name", "bad machine name"), http.StatusBadRequest, "VALIDATION_ERROR", "name"},
		{"conflict", apperrors.Conflict("slug", "taken"), http.StatusBadRequest, "CONFLICT", "slug"},
		{"not found", apperrors.NotFound("no such role"), http.StatusNotFound, "NOT_FOUND", ""},
		{"plain error becomes store", assert.AnError, http.StatusInternalServerError, "STORE_ERROR", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NoError(t, WriteResultError(rec, tt.err))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var result Result
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
			assert.False(t, result.Success)
			assert.Equal(t, tt.wantError, result.Error)
			assert.Equal(t, tt.wantField, result.Field)
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	var dest struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"editor"}`))
	rec := httptest.NewRecorder()
	assert.True(t, ParseJSONOrError(rec, req, &dest))
	assert.Equal(t, "editor", dest.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{notjson`))
	rec = httptest.NewRecorder()
	assert.False(t, ParseJSONOrError(rec, req, &dest))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParsePathUUID(t *testing.T) {
	id := uuid.New()

	router := mux.NewRouter()
	var got uuid.UUID
	var ok bool
	router.HandleFunc("/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, ok = ParsePathUUIDOrError(w, r, "id")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles/"+id.String(), nil))
	assert.True(t, ok)
	assert.Equal(t, id, got)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roles/not-a-uuid", nil))
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
