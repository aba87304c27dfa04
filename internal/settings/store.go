package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Repository описывает хранилище строк ключ/значение с настройками.
type Repository interface {
	LoadSettings(ctx context.Context) (map[string]json.RawMessage, error)
	UpsertSetting(ctx context.Context, key string, value json.RawMessage) error
}

// Store читает и пишет настройки, приводя сохранённые значения к типам значений по умолчанию.
type Store struct {
	repo   Repository
	logger *zap.Logger
}

// NewStore создаёт хранилище настроек поверх репозитория.
func NewStore(repo Repository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, logger: logger}
}

var errNotCoercible = errors.New("value is not coercible")

// fieldKinds сопоставляет ключ настройки с видом поля в Settings.
var fieldKinds = func() map[string]reflect.Kind {
	kinds := make(map[string]reflect.Kind)
	t := reflect.TypeOf(Settings{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		kinds[name] = f.Type.Kind()
	}
	return kinds
}()

// Get возвращает настройки. Ошибка чтения не возвращается: в журнал пишется предупреждение,
// а вызывающий получает значения по умолчанию.
func (s *Store) Get(ctx context.Context) Settings {
	res := Defaults()

	rows, err := s.repo.LoadSettings(ctx)
	if err != nil {
		s.logger.Warn("load settings failed, using defaults", zap.Error(err))
		return res
	}

	for key, raw := range rows {
		kind, ok := fieldKinds[key]
		if !ok {
			continue
		}

		value, err := coerce(kind, raw)
		if err != nil {
			s.logger.Warn("skip setting", zap.String("key", key), zap.ByteString("value", raw), zap.Error(err))
			continue
		}

		doc, err := json.Marshal(map[string]json.RawMessage{key: value})
		if err != nil {
			continue
		}
		if err := json.Unmarshal(doc, &res); err != nil {
			s.logger.Warn("skip setting", zap.String("key", key), zap.Error(err))
		}
	}

	return res
}

// Set сохраняет одно значение. Пустое значение заменяется пустым значением типа поля.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return errors.New("setting key is required")
	}

	raw, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	if raw == nil {
		raw = emptyValue(key)
	}

	if err := s.repo.UpsertSetting(ctx, key, raw); err != nil {
		s.logger.Error("update setting failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("update setting %s: %w", key, err)
	}

	return nil
}

func encode(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if isNull(v) {
			return nil, nil
		}
		if !json.Valid(v) {
			return nil, errors.New("invalid json")
		}
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func emptyValue(key string) json.RawMessage {
	kind, ok := fieldKinds[key]
	if !ok {
		return json.RawMessage(`{}`)
	}
	switch kind {
	case reflect.String:
		return json.RawMessage(`""`)
	case reflect.Bool:
		return json.RawMessage(`false`)
	case reflect.Int, reflect.Int64, reflect.Float64:
		return json.RawMessage(`0`)
	case reflect.Slice:
		return json.RawMessage(`[]`)
	default:
		return json.RawMessage(`{}`)
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func coerce(kind reflect.Kind, raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)

	var str string
	isString := json.Unmarshal(raw, &str) == nil && len(raw) > 0 && raw[0] == '"'

	switch kind {
	case reflect.String:
		if isString {
			return raw, nil
		}
		if isNull(raw) {
			return json.RawMessage(`""`), nil
		}
		return json.Marshal(string(raw))

	case reflect.Bool:
		text := string(raw)
		if isString {
			text = str
		}
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "true", "1", "yes", "on":
			return json.RawMessage(`true`), nil
		}
		return json.RawMessage(`false`), nil

	case reflect.Int, reflect.Int64, reflect.Float64:
		text := string(raw)
		if isString {
			text = strings.TrimSpace(str)
		}
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errNotCoercible
		}
		if kind != reflect.Float64 {
			if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
				return nil, errNotCoercible
			}
			return json.Marshal(int64(n))
		}
		return json.Marshal(n)

	case reflect.Struct:
		if isString {
			raw = json.RawMessage(str)
		}
		if len(raw) == 0 || raw[0] != '{' || !json.Valid(raw) {
			return nil, errNotCoercible
		}
		return raw, nil

	default:
		if isNull(raw) {
			return nil, errNotCoercible
		}
		return raw, nil
	}
}
