// Package httputil provides HTTP handler utilities for consistent JSON
// encoding, request parsing, and the structured result envelope used by the
// administrative API.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/teamgrid/authz/pkg/apperrors"
)

// Result is the envelope returned by administrative mutations: callers get a
// structured success/error result instead of a bare status code so UIs can
// render inline, field-level messages.
type Result struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Field   string      `json:"field,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteResult writes a successful result envelope
func WriteResult(w http.ResponseWriter, status int, data interface{}) error {
	return WriteJSON(w, status, Result{Success: true, Data: data})
}

// WriteResultError maps an application error to its HTTP status and writes a
// failed result envelope carrying the error kind and offending field.
func WriteResultError(w http.ResponseWriter, err error) error {
	appErr := apperrors.From(err)
	return WriteJSON(w, appErr.HTTPStatus(), Result{
		Success: false,
		Error:   string(appErr.Kind),
		Field:   appErr.Field,
	})
}

// WriteError writes a plain JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WriteBadRequest writes a 400 response
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteNotFound writes a 404 response
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteUnauthorized writes a 401 response
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a 403 response
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message)
}

// WriteInternalError writes a 500 response
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, err.Error())
}
