package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SettingsRepository хранит настройки платформы в таблице settings как пары ключ/JSON.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создаёт хранилище настроек поверх database/sql.
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// LoadSettings возвращает все сохранённые настройки.
func (r *SettingsRepository) LoadSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("select settings: %w", err)
	}
	defer rows.Close()

	res := make(map[string]json.RawMessage)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		res[key] = json.RawMessage(value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpsertSetting сохраняет значение настройки, заменяя предыдущее.
func (r *SettingsRepository) UpsertSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}
