// Package client provides typed HTTP clients for the two upstream services:
// the local spool inventory (Inv) and the cloud filament catalog (Cloud).
package client

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrNotAuthorized indicates the Cloud credential was rejected.
	ErrNotAuthorized = errors.New("client: not authorized")
)

// UpstreamError represents a failed upstream request: a non-2xx status from
// Inv, or a status=false envelope from Cloud.
type UpstreamError struct {
	System     string // "inv" or "cloud"
	Op         string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.System, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s", e.System, e.Op, e.Message)
}

// Is maps authorization failures onto ErrNotAuthorized.
func (e *UpstreamError) Is(target error) bool {
	if target == ErrNotAuthorized {
		return e.StatusCode == 401 || e.StatusCode == 403
	}
	return false
}

// ShapeError indicates an upstream response was missing its required
// envelope or keys. The tick is aborted on this error rather than guessing.
type ShapeError struct {
	System string
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s %s: unexpected response shape: %s", e.System, e.Op, e.Detail)
}
