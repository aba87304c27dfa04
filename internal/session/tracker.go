package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/essaymarket/internal/model"
)

// ErrExpired возвращается, если сессия завершена по неактивности.
var ErrExpired = errors.New("session expired")

// DefaultTimeout - время неактивности, после которого сессия завершается.
const DefaultTimeout = 30 * time.Minute

// ExpireFunc вызывается для каждой сессии, завершённой по неактивности.
type ExpireFunc func(ctx context.Context, s model.Session)

// Tracker ведёт сессии: создаёт, продлевает по активности и завершает по неактивности.
type Tracker struct {
	store    Store
	timeout  time.Duration
	logger   *zap.Logger
	onExpire ExpireFunc
	now      func() time.Time
}

// Option настраивает Tracker.
type Option func(*Tracker)

// WithExpireHook задаёт обработчик завершения сессии по неактивности.
func WithExpireHook(fn ExpireFunc) Option {
	return func(t *Tracker) { t.onExpire = fn }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker создаёт трекер. Неположительный timeout заменяется DefaultTimeout.
func NewTracker(store Store, timeout time.Duration, logger *zap.Logger, opts ...Option) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		store:   store,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Timeout возвращает время неактивности до завершения сессии.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// ttl оставляет ключ в хранилище дольше таймаута, чтобы обход успел заметить истечение.
func (t *Tracker) ttl() time.Duration {
	return 2 * t.timeout
}

func (t *Tracker) expired(s model.Session) bool {
	return t.now().Sub(s.LastActivity) > t.timeout
}

// Start открывает сессию пользователя.
func (t *Tracker) Start(ctx context.Context, userID uuid.UUID) (*model.Session, error) {
	now := t.now().UTC()
	s := model.Session{
		ID:           uuid.New(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := t.store.Save(ctx, s, t.ttl()); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return &s, nil
}

// Touch отмечает активность пользователя. Истёкшая сессия завершается, и возвращается ErrExpired.
func (t *Tracker) Touch(ctx context.Context, id, userID uuid.UUID) (*model.Session, error) {
	s, err := t.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if t.expired(*s) {
		t.expire(ctx, *s)
		return nil, ErrExpired
	}

	s.LastActivity = t.now().UTC()
	if err := t.store.Save(ctx, *s, t.ttl()); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return s, nil
}

// End завершает сессию по выходу пользователя.
func (t *Tracker) End(ctx context.Context, id, userID uuid.UUID) error {
	if _, err := t.owned(ctx, id, userID); err != nil {
		return err
	}
	if err := t.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (t *Tracker) owned(ctx context.Context, id, userID uuid.UUID) (*model.Session, error) {
	s, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, ErrNotFound
	}
	return s, nil
}

func (t *Tracker) expire(ctx context.Context, s model.Session) {
	err := t.store.Delete(ctx, s.ID)
	if errors.Is(err, ErrNotFound) {
		// Сессию уже завершил другой запрос или обход.
		return
	}
	if err != nil {
		t.logger.Error("delete expired session failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		return
	}

	t.logger.Info("session expired",
		zap.String("session_id", s.ID.String()),
		zap.String("user_id", s.UserID.String()),
		zap.Time("last_activity", s.LastActivity),
	)
	if t.onExpire != nil {
		t.onExpire(ctx, s)
	}
}

// Sweep завершает все истёкшие сессии и возвращает их число.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	sessions, err := t.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	n := 0
	for _, s := range sessions {
		if t.expired(s) {
			t.expire(ctx, s)
			n++
		}
	}
	return n, nil
}

// Run периодически вызывает Sweep до отмены контекста.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := t.Sweep(ctx); err != nil {
				t.logger.Error("session sweep failed", zap.Error(err))
			} else if n > 0 {
				t.logger.Info("expired sessions terminated", zap.Int("count", n))
			}
		}
	}
}
