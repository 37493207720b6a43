package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/rainman19121979/spoolsync/internal/pkg/errors"
	"github.com/rainman19121979/spoolsync/internal/pkg/response"
	"github.com/rainman19121979/spoolsync/internal/store"
)

const defaultListLimit = 50

// InventoryHandler serves read-only views over the local mirror.
type InventoryHandler struct {
	filaments store.FilamentRepository
	spools    store.SpoolRepository
	changes   store.ChangeLogRepository
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(filaments store.FilamentRepository, spools store.SpoolRepository, changes store.ChangeLogRepository) *InventoryHandler {
	return &InventoryHandler{
		filaments: filaments,
		spools:    spools,
		changes:   changes,
	}
}

// Register attaches the inventory routes to the given router.
func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/filaments", h.ListFilaments)
	r.Get("/spools", h.ListSpools)
	r.Get("/spools/{lotNr}/changes", h.ListSpoolChanges)
}

// ListFilaments handles GET /filaments.
func (h *InventoryHandler) ListFilaments(w http.ResponseWriter, r *http.Request) {
	fils, err := h.filaments.ListRecent(r.Context(), listLimit(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, fils)
}

// ListSpools handles GET /spools.
func (h *InventoryHandler) ListSpools(w http.ResponseWriter, r *http.Request) {
	spools, err := h.spools.ListRecent(r.Context(), listLimit(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, spools)
}

// ListSpoolChanges handles GET /spools/{lotNr}/changes.
func (h *InventoryHandler) ListSpoolChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	spool, err := h.spools.GetByLotNr(ctx, chi.URLParam(r, "lotNr"))
	if err != nil {
		response.Error(w, err)
		return
	}
	if spool == nil {
		response.Error(w, apierrors.ErrNotFound.WithMessage("unknown spool"))
		return
	}

	entries, err := h.changes.ListByEntity(ctx, "spool", spool.ID, listLimit(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, entries)
}

func listLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return defaultListLimit
}
