// Package session отслеживает активность пользователей и завершает сессии по неактивности.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mmeshcher/essaymarket/internal/model"
)

// ErrNotFound возвращается, если сессия не существует или уже завершена.
var ErrNotFound = errors.New("session not found")

// Store хранит сессии.
type Store interface {
	Save(ctx context.Context, s model.Session, ttl time.Duration) error
	Get(ctx context.Context, id uuid.UUID) (*model.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]model.Session, error)
}

// MemoryStore хранит сессии в памяти процесса.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]model.Session
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]model.Session)}
}

// Save сохраняет сессию. TTL не используется: устаревшие сессии удаляет Tracker.
func (m *MemoryStore) Save(_ context.Context, s model.Session, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

// Get возвращает сессию по идентификатору.
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Delete удаляет сессию.
func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// List возвращает все сессии.
func (m *MemoryStore) List(_ context.Context) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		res = append(res, s)
	}
	return res, nil
}

const (
	redisKeyPrefix = "session:"
	redisIndexKey  = "sessions"
)

// RedisStore хранит сессии в Redis, общем для всех экземпляров сервиса.
// Каждая сессия лежит в отдельном ключе с TTL, идентификаторы собраны в множество для обхода.
type RedisStore struct {
	client *goredis.Client
}

// NewRedisStore создаёт хранилище поверх клиента Redis.
func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisSession struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func redisKey(id uuid.UUID) string {
	return redisKeyPrefix + id.String()
}

// Save сохраняет сессию с указанным временем жизни ключа.
func (r *RedisStore) Save(ctx context.Context, s model.Session, ttl time.Duration) error {
	value, err := json.Marshal(redisSession(s))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisKey(s.ID), value, ttl)
	pipe.SAdd(ctx, redisIndexKey, s.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get возвращает сессию по идентификатору.
func (r *RedisStore) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	raw, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s redisSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	res := model.Session(s)
	return &res, nil
}

// Delete удаляет сессию.
func (r *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, redisKey(id))
	pipe.SRem(ctx, redisIndexKey, id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает все живые сессии и вычищает из индекса ключи, истёкшие по TTL.
func (r *RedisStore) List(ctx context.Context) ([]model.Session, error) {
	ids, err := r.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKeyPrefix + id
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	var (
		res   []model.Session
		stale []any
	)
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var s redisSession
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		res = append(res, model.Session(s))
	}

	if len(stale) > 0 {
		if err := r.client.SRem(ctx, redisIndexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune session index: %w", err)
		}
	}

	return res, nil
}
