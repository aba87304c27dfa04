// Package handler содержит HTTP-обработчики API биржи работ.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/essaymarket/internal/lifecycle"
	"github.com/mmeshcher/essaymarket/internal/metrics"
	"github.com/mmeshcher/essaymarket/internal/middleware"
	"github.com/mmeshcher/essaymarket/internal/model"
	"github.com/mmeshcher/essaymarket/internal/paypal"
	"github.com/mmeshcher/essaymarket/internal/pricing"
	"github.com/mmeshcher/essaymarket/internal/repository"
	"github.com/mmeshcher/essaymarket/internal/service"
	"github.com/mmeshcher/essaymarket/internal/session"
	"github.com/mmeshcher/essaymarket/internal/settings"
	"github.com/mmeshcher/essaymarket/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Profile(ctx context.Context, userID uuid.UUID) (*model.Profile, error)
	Settings(ctx context.Context) settings.Settings
	UpdateSetting(ctx context.Context, actor *model.Profile, key string, value json.RawMessage) error

	Quote(ctx context.Context, pages int, due time.Time) pricing.Quote
	CreateOrder(ctx context.Context, actor *model.Profile, in service.OrderInput) (*model.Order, error)
	ListOrders(ctx context.Context, actor *model.Profile) ([]model.Order, error)
	GetOrder(ctx context.Context, actor *model.Profile, id uuid.UUID) (*model.Order, error)
	PayOrder(ctx context.Context, actor *model.Profile, id uuid.UUID) (*model.Order, *model.WalletTransaction, error)
	ClaimOrder(ctx context.Context, actor *model.Profile, id uuid.UUID, status model.OrderStatus) (*model.Order, error)
	ReleaseOrder(ctx context.Context, actor *model.Profile, id uuid.UUID) (*model.Order, error)
	ChangeStatus(ctx context.Context, actor *model.Profile, id uuid.UUID, to model.OrderStatus) (*model.Order, error)
	AdminUpdateOrder(ctx context.Context, actor *model.Profile, id uuid.UUID, upd service.AdminOrderUpdate) (*model.Order, error)

	Wallet(ctx context.Context, actor *model.Profile) (*model.Wallet, error)
	Transactions(ctx context.Context, actor *model.Profile) ([]model.WalletTransaction, error)
	CreateDeposit(ctx context.Context, actor *model.Profile, amount decimal.Decimal, walletID uuid.UUID) (*service.DepositResult, error)
	CaptureDeposit(ctx context.Context, actor *model.Profile, paypalOrderID string, walletID uuid.UUID) (*service.CaptureResult, error)
	RequestPayout(ctx context.Context, actor *model.Profile, amount decimal.Decimal, walletID uuid.UUID, email string) (*service.PayoutResult, error)
	CheckPayout(ctx context.Context, actor *model.Profile, transactionID uuid.UUID) (*service.PayoutStatus, error)
	HandleWebhook(ctx context.Context, headers paypal.WebhookHeaders, body json.RawMessage) error
}

// SessionTracker управляет сессиями активности.
type SessionTracker interface {
	middleware.Toucher
	Start(ctx context.Context, userID uuid.UUID) (*model.Session, error)
	End(ctx context.Context, id, userID uuid.UUID) error
	Timeout() time.Duration
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	sessions       SessionTracker
	metrics        *metrics.Metrics
	now            func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, sessions SessionTracker, m *metrics.Metrics) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		sessions:       sessions,
		metrics:        m,
		now:            time.Now,
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

// statusFor сопоставляет ошибку сервиса с HTTP-статусом.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validation.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, session.ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrTransactionNotFound),
		errors.Is(err, repository.ErrWalletNotFound),
		errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrOrderAlreadyClaimed),
		errors.Is(err, repository.ErrOrderNotAssigned),
		errors.Is(err, repository.ErrOrderStatusChanged),
		errors.Is(err, service.ErrNotPayable):
		return http.StatusConflict
	case errors.Is(err, repository.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, lifecycle.ErrTransitionNotAllowed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrMaintenance), errors.Is(err, paypal.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail пишет ответ с ошибкой. Внутренние ошибки логируются, а клиенту отдаётся общий текст.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		writeError(w, status, http.StatusText(status))
		return
	}
	if status == http.StatusBadGateway {
		h.logger.Warn(op+" upstream error", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// actor загружает профиль пользователя из токена. При ошибке ответ уже записан.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (*model.Profile, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return nil, false
	}

	p, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		h.fail(w, "load profile", err)
		return nil, false
	}
	return p, true
}

func parseID(w http.ResponseWriter, name, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// Health сообщает, что процесс жив.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
