package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/essaymarket/internal/model"
	"github.com/mmeshcher/essaymarket/internal/session"
)

// SessionHeader - заголовок с идентификатором сессии активности.
const SessionHeader = "X-Session-ID"

// Toucher продлевает сессию при активности пользователя.
type Toucher interface {
	Touch(ctx context.Context, id, userID uuid.UUID) (*model.Session, error)
}

// Session продлевает сессию из заголовка X-Session-ID. Запрос без заголовка пропускается:
// тайм-аут неактивности действует только для клиентов, которые передают сессию, остальных
// ограничивает срок жизни токена. Истёкшая или чужая сессия даёт 401.
// Должен стоять после AuthMiddleware.
func Session(tracker Toucher, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(SessionHeader)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, ok := GetUserIDFromContext(r.Context())
			if !ok {
				unauthorized(w, "unauthorized")
				return
			}

			id, err := uuid.Parse(raw)
			if err != nil {
				unauthorized(w, "session expired")
				return
			}

			if _, err := tracker.Touch(r.Context(), id, userID); err != nil {
				if errors.Is(err, session.ErrExpired) || errors.Is(err, session.ErrNotFound) {
					unauthorized(w, "session expired")
					return
				}
				logger.Error("touch session failed", zap.String("session_id", raw), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
