package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetSettings возвращает действующие настройки платформы.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Settings(r.Context()))
}

type updateSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// UpdateSetting сохраняет одну настройку. Тело запроса: {"value": ...}; null сбрасывает значение.
func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req updateSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.service.UpdateSetting(r.Context(), actor, key, req.Value); err != nil {
		h.fail(w, "update setting", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": h.service.Settings(r.Context())})
}
