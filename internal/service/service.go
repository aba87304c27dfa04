// Package service реализует бизнес-логику биржи академических работ.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/essaymarket/internal/metrics"
	"github.com/mmeshcher/essaymarket/internal/model"
	"github.com/mmeshcher/essaymarket/internal/notify"
	"github.com/mmeshcher/essaymarket/internal/paypal"
	"github.com/mmeshcher/essaymarket/internal/repository"
	"github.com/mmeshcher/essaymarket/internal/settings"
)

var (
	// ErrForbidden возвращается, если роль или владелец не позволяют выполнить действие.
	ErrForbidden = errors.New("forbidden")
	// ErrMaintenance возвращается, пока платформа в режиме обслуживания.
	ErrMaintenance = errors.New("platform is under maintenance")
	// ErrNotPayable возвращается при оплате заказа, который не ожидает оплаты.
	ErrNotPayable = errors.New("order is not awaiting payment")
	// ErrUpstream оборачивает ошибки платёжного шлюза.
	ErrUpstream = errors.New("payment provider error")
	// ErrInvalidSignature возвращается для вебхука с неподтверждённой подписью.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*model.Profile, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ListOrders(ctx context.Context, f repository.OrderFilter) ([]model.Order, error)
	ClaimOrder(ctx context.Context, orderID, writerID uuid.UUID, status model.OrderStatus) (*model.Order, error)
	ReleaseOrder(ctx context.Context, orderID, writerID uuid.UUID) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to model.OrderStatus) (*model.Order, error)
	AdminUpdateOrder(ctx context.Context, orderID uuid.UUID, status model.OrderStatus, writerID *uuid.UUID) (*model.Order, error)
	PayOrder(ctx context.Context, orderID, walletID uuid.UUID) (*model.Order, *model.WalletTransaction, error)

	GetOrCreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*model.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*model.Wallet, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID) ([]model.WalletTransaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*model.WalletTransaction, error)
	FindTransactionByGatewayRef(ctx context.Context, ref string, typ model.TransactionType) (*model.WalletTransaction, error)
	RecordTransaction(ctx context.Context, t *model.WalletTransaction) error
	SetGatewayRef(ctx context.Context, id uuid.UUID, ref string) error
	CompleteTransaction(ctx context.Context, id uuid.UUID) (*model.WalletTransaction, bool, error)
	FailTransaction(ctx context.Context, id uuid.UUID, reason string) (*model.WalletTransaction, bool, error)
}

// SettingsStore даёт доступ к настройкам платформы.
type SettingsStore interface {
	Get(ctx context.Context) settings.Settings
	Set(ctx context.Context, key string, value any) error
}

// PaymentGateway описывает вызовы PayPal, которые использует сервис.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, r paypal.CreateOrderRequest) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	CreatePayout(ctx context.Context, r paypal.PayoutRequest) (*paypal.PayoutBatch, error)
	GetPayoutBatch(ctx context.Context, batchID string) (*paypal.PayoutBatch, error)
	VerifyWebhookSignature(ctx context.Context, h paypal.WebhookHeaders, event json.RawMessage) (bool, error)
}

// Deps - зависимости сервиса.
type Deps struct {
	Repo      Repository
	Settings  SettingsStore
	Gateway   PaymentGateway
	Publisher notify.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	// Currency - валюта платежей PayPal. По умолчанию берётся из настроек.
	Currency string
}

// Service содержит бизнес-логику платформы.
type Service struct {
	repo      Repository
	settings  SettingsStore
	gateway   PaymentGateway
	publisher notify.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	currency  string
	now       func() time.Time
}

// NewService создаёт сервис.
func NewService(d Deps) *Service {
	s := &Service{
		repo:      d.Repo,
		settings:  d.Settings,
		gateway:   d.Gateway,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		logger:    d.Logger,
		currency:  d.Currency,
		now:       time.Now,
	}
	if s.publisher == nil {
		s.publisher = notify.Noop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Profile возвращает профиль пользователя вместе с его ролью.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return p, nil
}

// Settings возвращает действующие настройки платформы.
func (s *Service) Settings(ctx context.Context) settings.Settings {
	return s.settings.Get(ctx)
}

// UpdateSetting сохраняет одну настройку. Доступно только администратору.
func (s *Service) UpdateSetting(ctx context.Context, actor *model.Profile, key string, value json.RawMessage) error {
	if actor.Role != model.RoleAdmin {
		return ErrForbidden
	}
	if err := s.settings.Set(ctx, key, value); err != nil {
		return err
	}
	s.logger.Info("setting updated", zap.String("key", key), zap.String("admin_id", actor.ID.String()))
	return nil
}

func (s *Service) paymentCurrency(st settings.Settings) string {
	if s.currency != "" {
		return s.currency
	}
	if st.Currency != "" {
		return st.Currency
	}
	return "USD"
}

func (s *Service) publish(ctx context.Context, e notify.Event) {
	e.OccurredAt = s.now().UTC()
	notify.Publish(ctx, s.publisher, s.logger, e)
}
