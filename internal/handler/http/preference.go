package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/notifier/internal/domain"
	"github.com/utafrali/notifier/internal/service"
	"github.com/utafrali/notifier/pkg/httputil"
	"github.com/utafrali/notifier/pkg/validator"
)

// PreferenceHandler handles HTTP requests for user delivery preferences.
type PreferenceHandler struct {
	service *service.PreferenceService
	logger  *slog.Logger
}

// NewPreferenceHandler creates a new preference HTTP handler.
func NewPreferenceHandler(svc *service.PreferenceService, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// ChannelsRequest switches channels on or off for every type of a user.
type ChannelsRequest struct {
	Channels map[domain.Channel]bool `json:"channels" validate:"required,min=1"`
}

// QuietHoursRequest sets or clears quiet hours for every non-critical type of a user.
type QuietHoursRequest struct {
	QuietHours *domain.QuietHours `json:"quiet_hours"`
}

// EnabledRequest enables or disables every type of a user.
type EnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// --- Handlers ---

// List handles GET /api/v1/preferences/{userId}
func (h *PreferenceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return
	}

	prefs, err := h.service.ListForUser(r.Context(), userID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: prefs})
}

// Get handles GET /api/v1/preferences/{userId}/{type}
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return
	}

	pref, err := h.service.Get(r.Context(), userID.String(), chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: pref})
}

// Update handles PUT /api/v1/preferences/{userId}/{type}
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return
	}

	var req domain.PreferenceUpdate
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	pref, err := h.service.Update(r.Context(), userID.String(), chi.URLParam(r, "type"), &req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: pref})
}

// SetChannels handles PUT /api/v1/preferences/{userId}/channels
func (h *PreferenceHandler) SetChannels(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return
	}

	var req ChannelsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.SetGlobalChannels(r.Context(), userID.String(), req.Channels)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// SetQuietHours handles PUT /api/v1/preferences/{userId}/quiet-hours
func (h *PreferenceHandler) SetQuietHours(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return
	}

	var req QuietHoursRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.QuietHours != nil {
		if err := validator.Validate(req.QuietHours); err != nil {
			httputil.WriteValidationError(w, err)
			return
		}
	}

	result, err := h.service.SetGlobalQuietHours(r.Context(), userID.String(), req.QuietHours)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// SetEnabled handles PUT /api/v1/preferences/{userId}/enabled
func (h *PreferenceHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return
	}

	var req EnabledRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.SetAll(r.Context(), userID.String(), *req.Enabled)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}
