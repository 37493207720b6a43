// Package response provides JSON response helpers for API handlers.
package response

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/rainman19121979/spoolsync/internal/pkg/errors"
)

// Response represents a standard API response envelope.
type Response struct {
	Data  any `json:"data,omitempty"`
	Error any `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Data: data}); err != nil {
		http.Error(w, `{"error":{"code":"internal_error","message":"Failed to encode response"}}`, http.StatusInternalServerError)
	}
}

// Error writes an error response.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierrors.AsAPIError(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	_ = json.NewEncoder(w).Encode(Response{Error: apiErr})
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Accepted writes a 202 Accepted response.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
