package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/essaymarket/internal/middleware"
	"github.com/mmeshcher/essaymarket/internal/model"
)

type sessionResponse struct {
	ID           uuid.UUID `json:"sessionId"`
	LastActivity string    `json:"lastActivity"`
	ExpiresAt    string    `json:"expiresAt"`
	Timeout      int64     `json:"timeoutSeconds"`
}

func (h *Handler) sessionView(s *model.Session) sessionResponse {
	timeout := h.sessions.Timeout()
	return sessionResponse{
		ID:           s.ID,
		LastActivity: s.LastActivity.Format(time.RFC3339),
		ExpiresAt:    s.LastActivity.Add(timeout).Format(time.RFC3339),
		Timeout:      int64(timeout / time.Second),
	}
}

// StartSession открывает сессию активности после входа.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	s, err := h.sessions.Start(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, "start session", err)
		return
	}
	h.metrics.SessionStarted()

	w.Header().Set(middleware.SessionHeader, s.ID.String())
	writeJSON(w, http.StatusCreated, h.sessionView(s))
}

// Activity продлевает сессию. Истёкшая сессия даёт 401.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.sessionRef(w, r)
	if !ok {
		return
	}

	s, err := h.sessions.Touch(r.Context(), id, userID)
	if err != nil {
		h.fail(w, "touch session", err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(s))
}

// EndSession завершает сессию при выходе.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.sessionRef(w, r)
	if !ok {
		return
	}

	if err := h.sessions.End(r.Context(), id, userID); err != nil {
		h.fail(w, "end session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionRef(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return uuid.Nil, uuid.Nil, false
	}

	id, ok := parseID(w, "session id", r.Header.Get(middleware.SessionHeader))
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}
