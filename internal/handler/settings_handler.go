package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rainman19121979/spoolsync/internal/client"
	apierrors "github.com/rainman19121979/spoolsync/internal/pkg/errors"
	"github.com/rainman19121979/spoolsync/internal/pkg/response"
	"github.com/rainman19121979/spoolsync/internal/store"
	syncpkg "github.com/rainman19121979/spoolsync/internal/sync"
)

// SettingsHandler manages runtime configuration and the credential probe.
type SettingsHandler struct {
	settings  store.SettingsRepository
	scheduler *syncpkg.Scheduler
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(settings store.SettingsRepository, scheduler *syncpkg.Scheduler, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings:  settings,
		scheduler: scheduler,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Routes returns a chi router with settings routes.
func (h *SettingsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Put("/", h.Update)
	r.Post("/test", h.TestConnection)
	return r
}

// SettingsResponse is the settings document returned to clients. The Cloud
// token itself is never returned, only its presence.
type SettingsResponse struct {
	InvBase             string  `json:"inv_base"`
	CloudBase           string  `json:"cloud_base"`
	CloudOrgID          string  `json:"cloud_org_id"`
	CloudTokenSet       bool    `json:"cloud_token_set"`
	SyncIntervalSeconds int     `json:"sync_interval_seconds"`
	EpsilonGrams        float64 `json:"epsilon_grams"`
	DryRun              bool    `json:"dry_run"`
	LastSyncTime        string  `json:"last_sync_time,omitempty"`
}

// Get handles GET /settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	invBase, err := h.settings.Get(ctx, store.KeyInvBase)
	if err != nil {
		response.Error(w, err)
		return
	}
	cloudBase, err := h.settings.Get(ctx, store.KeyCloudBase)
	if err != nil {
		response.Error(w, err)
		return
	}
	orgID, err := h.settings.Get(ctx, store.KeyCloudOrgID)
	if err != nil {
		response.Error(w, err)
		return
	}
	tokenSet, err := h.settings.HasSecret(ctx, store.KeyCloudToken)
	if err != nil {
		response.Error(w, err)
		return
	}

	resp := SettingsResponse{
		InvBase:             invBase,
		CloudBase:           cloudBase,
		CloudOrgID:          orgID,
		CloudTokenSet:       tokenSet,
		SyncIntervalSeconds: int(h.settings.SyncInterval(ctx).Seconds()),
		EpsilonGrams:        h.settings.Epsilon(ctx),
		DryRun:              h.settings.DryRun(ctx),
	}
	if last := h.settings.LastSyncTime(ctx); !last.IsZero() {
		resp.LastSyncTime = last.Format("2006-01-02T15:04:05Z07:00")
	}
	response.OK(w, resp)
}

// UpdateSettingsRequest is the HTTP request body for updating settings.
// Absent fields are left untouched.
type UpdateSettingsRequest struct {
	InvBase             *string  `json:"inv_base,omitempty" validate:"omitempty,url"`
	CloudBase           *string  `json:"cloud_base,omitempty" validate:"omitempty,url"`
	CloudOrgID          *string  `json:"cloud_org_id,omitempty"`
	CloudToken          *string  `json:"cloud_token,omitempty"`
	SyncIntervalSeconds *int     `json:"sync_interval_seconds,omitempty" validate:"omitempty,min=1"`
	EpsilonGrams        *float64 `json:"epsilon_grams,omitempty" validate:"omitempty,gt=0"`
	DryRun              *bool    `json:"dry_run,omitempty"`
}

// Update handles PUT /settings. Interval and epsilon are clamped to their
// floors rather than rejected; a changed interval reconfigures the
// scheduler immediately.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage(err.Error()))
		return
	}

	if req.InvBase != nil {
		if err := h.settings.Set(ctx, store.KeyInvBase, *req.InvBase); err != nil {
			response.Error(w, err)
			return
		}
	}
	if req.CloudBase != nil {
		if err := h.settings.Set(ctx, store.KeyCloudBase, *req.CloudBase); err != nil {
			response.Error(w, err)
			return
		}
	}
	if req.CloudOrgID != nil {
		if err := h.settings.Set(ctx, store.KeyCloudOrgID, *req.CloudOrgID); err != nil {
			response.Error(w, err)
			return
		}
	}
	if req.CloudToken != nil {
		if err := h.settings.SetSecret(ctx, store.KeyCloudToken, *req.CloudToken); err != nil {
			response.Error(w, err)
			return
		}
	}
	if req.SyncIntervalSeconds != nil {
		secs := *req.SyncIntervalSeconds
		if minSecs := int(store.MinSyncInterval.Seconds()); secs < minSecs {
			secs = minSecs
		}
		if err := h.settings.Set(ctx, store.KeySyncInterval, strconv.Itoa(secs)); err != nil {
			response.Error(w, err)
			return
		}
		h.scheduler.Reconfigure(h.settings.SyncInterval(ctx))
	}
	if req.EpsilonGrams != nil {
		eps := *req.EpsilonGrams
		if eps < store.MinEpsilonGrams {
			eps = store.MinEpsilonGrams
		}
		if err := h.settings.Set(ctx, store.KeyEpsilon, strconv.FormatFloat(eps, 'f', -1, 64)); err != nil {
			response.Error(w, err)
			return
		}
	}
	if req.DryRun != nil {
		if err := h.settings.Set(ctx, store.KeyDryRun, strconv.FormatBool(*req.DryRun)); err != nil {
			response.Error(w, err)
			return
		}
	}

	h.Get(w, r)
}

// TestProbe is one upstream's probe result.
type TestProbe struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// TestResponse reports reachability of both upstreams.
type TestResponse struct {
	Inv   TestProbe `json:"inv"`
	Cloud TestProbe `json:"cloud"`
}

// TestConnection handles POST /settings/test. The probe result is data, not
// an API error: a bad credential still answers 200 with ok=false.
func (h *SettingsHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	invBase, err := h.settings.Get(ctx, store.KeyInvBase)
	if err != nil {
		response.Error(w, err)
		return
	}
	cloudBase, err := h.settings.Get(ctx, store.KeyCloudBase)
	if err != nil {
		response.Error(w, err)
		return
	}
	orgID, err := h.settings.Get(ctx, store.KeyCloudOrgID)
	if err != nil {
		response.Error(w, err)
		return
	}
	token, err := h.settings.GetSecret(ctx, store.KeyCloudToken)
	if err != nil {
		response.Error(w, err)
		return
	}

	var resp TestResponse
	if _, err := client.NewInv(invBase).ListSpools(ctx); err != nil {
		resp.Inv = TestProbe{Error: err.Error()}
	} else {
		resp.Inv = TestProbe{OK: true}
	}
	if err := client.NewCloud(cloudBase, orgID, token).TestConnection(ctx); err != nil {
		if errors.Is(err, client.ErrNotAuthorized) {
			resp.Cloud = TestProbe{Error: "not authorized"}
		} else {
			resp.Cloud = TestProbe{Error: err.Error()}
		}
	} else {
		resp.Cloud = TestProbe{OK: true}
	}
	response.OK(w, resp)
}
