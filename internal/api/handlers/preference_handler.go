package handlers

import (
	"log/slog"
	"net/http"

	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/service"
)

type preferenceRequest struct {
	Value string `json:"value"`
}

type PreferenceHandler struct {
	preferenceService *service.PreferenceService
	logger            *slog.Logger
}

func NewPreferenceHandler(preferenceService *service.PreferenceService, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		preferenceService: preferenceService,
		logger:            logger,
	}
}

func (h *PreferenceHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.preferenceService.GetPreferences(r.Context(), currentUID(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "get preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preferences": prefs,
	})
}

func (h *PreferenceHandler) SetTheme(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "JSON error: "+err.Error())
		return
	}
	if err := h.preferenceService.SetTheme(r.Context(), currentUID(r), models.Theme(req.Value)); err != nil {
		writeServiceError(w, r, h.logger, "save theme", err)
		return
	}
	h.GetPreferences(w, r)
}

func (h *PreferenceHandler) SetView(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "JSON error: "+err.Error())
		return
	}
	if err := h.preferenceService.SetView(r.Context(), currentUID(r), models.ViewMode(req.Value)); err != nil {
		writeServiceError(w, r, h.logger, "save view", err)
		return
	}
	h.GetPreferences(w, r)
}
