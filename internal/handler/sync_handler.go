// Package handler provides HTTP handlers for the sync service API.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/rainman19121979/spoolsync/internal/pkg/errors"
	"github.com/rainman19121979/spoolsync/internal/pkg/response"
	syncpkg "github.com/rainman19121979/spoolsync/internal/sync"
)

// SyncHandler exposes manual sync triggering and run status.
type SyncHandler struct {
	scheduler *syncpkg.Scheduler
	status    *syncpkg.StatusReporter
	logger    *slog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(scheduler *syncpkg.Scheduler, status *syncpkg.StatusReporter, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		scheduler: scheduler,
		status:    status,
		logger:    logger,
	}
}

// Routes returns a chi router with sync routes.
func (h *SyncHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Trigger)
	return r
}

// Trigger handles POST /sync. The tick runs in the background under the
// scheduler's lifetime; a tick already in flight yields a conflict rather
// than queueing.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	err := h.scheduler.TriggerAsync()
	if errors.Is(err, syncpkg.ErrTickInProgress) {
		response.Error(w, apierrors.ErrConflict.WithMessage("a sync run is already in progress"))
		return
	}
	if err != nil {
		response.Error(w, err)
		return
	}

	response.Accepted(w, map[string]string{"status": "started"})
}

// Status handles GET /status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.status.Snapshot())
}
