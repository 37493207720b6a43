// Package errors provides standardized API error types for the HTTP surface.
package errors

import (
	"errors"
	"net/http"
)

// APIError represents a standardized API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    details,
	}
}

// Standard error definitions
var (
	// ErrBadRequest is returned when the request payload is invalid.
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = &APIError{
		Code:       "not_found",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrConflict is returned when an operation conflicts with current state,
	// e.g. triggering a sync while one is already running.
	ErrConflict = &APIError{
		Code:       "conflict",
		Message:    "Operation conflicts with current state",
		StatusCode: http.StatusConflict,
	}

	// ErrUpstream is returned when an upstream service rejected a request.
	ErrUpstream = &APIError{
		Code:       "upstream_error",
		Message:    "Upstream service request failed",
		StatusCode: http.StatusBadGateway,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// AsAPIError converts any error to an APIError, defaulting to ErrInternal.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal.WithMessage(err.Error())
}
