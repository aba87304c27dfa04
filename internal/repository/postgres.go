// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/essaymarket/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrProfileNotFound возвращается, если профиль пользователя не найден.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateAssignmentCode возвращается при повторном коде задания.
	ErrDuplicateAssignmentCode = errors.New("assignment code already exists")
	// ErrOrderAlreadyClaimed возвращается, если заказ уже взят другим исполнителем.
	ErrOrderAlreadyClaimed = errors.New("order already claimed")
	// ErrOrderNotAssigned возвращается, если заказ не закреплён за исполнителем.
	ErrOrderNotAssigned = errors.New("order is not assigned to writer")
	// ErrOrderStatusChanged возвращается, если статус заказа изменился параллельно.
	ErrOrderStatusChanged = errors.New("order status changed concurrently")
	// ErrWalletNotFound возвращается, если кошелёк не найден.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrTransactionNotFound возвращается, если операция по кошельку не найдена.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, db: stdlib.OpenDBFromPool(pool)}

	if err := r.runMigrations(ctx); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, r.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Settings возвращает хранилище настроек, работающее через database/sql поверх того же пула.
func (r *PostgresRepository) Settings() *SettingsRepository {
	return NewSettingsRepository(r.db)
}

// Ping проверяет доступность базы.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !retryable(err) || i == len(delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delays[i]):
		}
	}
	return err
}

// retryable сообщает, стоит ли повторить транзакцию: конфликт сериализации,
// взаимоблокировка или обрыв соединения.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// inTx выполняет fn в транзакции с повтором при временных ошибках.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	var err error
	if r.db != nil {
		err = r.db.Close()
	}
	r.pool.Close()
	return err
}

// GetProfile возвращает профиль пользователя вместе с ролью.
func (r *PostgresRepository) GetProfile(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	var (
		p    model.Profile
		role string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, role, created_at FROM profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Email, &role, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.Role = model.Role(role)

	return &p, nil
}
