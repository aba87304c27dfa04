package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/essaymarket/internal/model"
)

const transactionColumns = `id, wallet_id, amount, type, status, gateway_ref, description, order_id, created_at, updated_at`

func scanTransaction(row rowScanner) (*model.WalletTransaction, error) {
	var (
		t           model.WalletTransaction
		typ, status string
	)
	err := row.Scan(&t.ID, &t.WalletID, &t.Amount, &typ, &status, &t.GatewayRef, &t.Description, &t.OrderID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = model.TransactionType(typ)
	t.Status = model.TransactionStatus(status)
	return &t, nil
}

// GetOrCreateWallet возвращает кошелёк пользователя, создавая пустой при первом обращении.
func (r *PostgresRepository) GetOrCreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*model.Wallet, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallets (id, user_id, balance, currency) VALUES ($1, $2, 0, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		uuid.New(), userID, currency,
	)
	if err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}

	var w model.Wallet
	err = r.pool.QueryRow(ctx,
		`SELECT id, user_id, balance, currency, created_at, updated_at FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("select wallet: %w", err)
	}

	return &w, nil
}

// GetWallet возвращает кошелёк по идентификатору.
func (r *PostgresRepository) GetWallet(ctx context.Context, id uuid.UUID) (*model.Wallet, error) {
	var w model.Wallet
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, balance, currency, created_at, updated_at FROM wallets WHERE id = $1`,
		id,
	).Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

// ListTransactions возвращает журнал операций кошелька, новые первыми.
func (r *PostgresRepository) ListTransactions(ctx context.Context, walletID uuid.UUID) ([]model.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE wallet_id = $1 ORDER BY created_at DESC`,
		walletID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.WalletTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetTransaction возвращает операцию по идентификатору.
func (r *PostgresRepository) GetTransaction(ctx context.Context, id uuid.UUID) (*model.WalletTransaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// FindTransactionByGatewayRef возвращает последнюю операцию заданного типа с указанной ссылкой платёжного шлюза.
func (r *PostgresRepository) FindTransactionByGatewayRef(ctx context.Context, ref string, typ model.TransactionType) (*model.WalletTransaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions
		 WHERE gateway_ref = $1 AND type = $2
		 ORDER BY created_at DESC LIMIT 1`,
		ref, string(typ)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return t, nil
}

// RecordTransaction добавляет запись в журнал и, если запись учитывается в балансе,
// меняет баланс кошелька в той же транзакции.
func (r *PostgresRepository) RecordTransaction(ctx context.Context, t *model.WalletTransaction) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return applyTransaction(ctx, tx, t)
	})
}

// SetGatewayRef сохраняет ссылку платёжного шлюза на операцию.
func (r *PostgresRepository) SetGatewayRef(ctx context.Context, id uuid.UUID, ref string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE wallet_transactions SET gateway_ref = $2, updated_at = NOW() WHERE id = $1`,
		id, ref,
	)
	if err != nil {
		return fmt.Errorf("set gateway ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// CompleteTransaction переводит ожидающую операцию в завершённые и зачисляет пополнение на баланс.
// Возвращает false, если операция уже была обработана ранее.
func (r *PostgresRepository) CompleteTransaction(ctx context.Context, id uuid.UUID) (*model.WalletTransaction, bool, error) {
	var (
		res     *model.WalletTransaction
		changed bool
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		t, err := lockTransaction(ctx, tx, id)
		if err != nil {
			return err
		}
		res = t
		if t.Status != model.TransactionPending {
			return nil
		}

		if !t.Amount.IsNegative() {
			if err := adjustBalance(ctx, tx, t.WalletID, t.Amount); err != nil {
				return err
			}
		}
		if err := setTransactionStatus(ctx, tx, t, model.TransactionCompleted); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return res, changed, nil
}

// FailTransaction помечает ожидающую операцию неуспешной. Для списания средства возвращаются
// на баланс и в журнал добавляется запись возврата. Возвращает false, если операция уже обработана.
func (r *PostgresRepository) FailTransaction(ctx context.Context, id uuid.UUID, reason string) (*model.WalletTransaction, bool, error) {
	var (
		refund  *model.WalletTransaction
		changed bool
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		t, err := lockTransaction(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status != model.TransactionPending {
			return nil
		}

		if err := setTransactionStatus(ctx, tx, t, model.TransactionFailed); err != nil {
			return err
		}
		changed = true

		if !t.Amount.IsNegative() {
			return nil
		}

		refund = &model.WalletTransaction{
			ID:          uuid.New(),
			WalletID:    t.WalletID,
			Amount:      t.Amount.Neg(),
			Type:        model.TransactionRefund,
			Status:      model.TransactionCompleted,
			GatewayRef:  t.GatewayRef,
			Description: reason,
			OrderID:     t.OrderID,
		}
		return applyTransaction(ctx, tx, refund)
	})
	if err != nil {
		return nil, false, err
	}

	return refund, changed, nil
}

func lockTransaction(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.WalletTransaction, error) {
	t, err := scanTransaction(tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	return t, nil
}

func setTransactionStatus(ctx context.Context, tx pgx.Tx, t *model.WalletTransaction, status model.TransactionStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE wallet_transactions SET status = $2, updated_at = NOW() WHERE id = $1`,
		t.ID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	t.Status = status
	return nil
}

// applyTransaction вставляет запись журнала. Блокировка строки кошелька сериализует
// конкурентные списания, поэтому баланс не может уйти в минус.
func applyTransaction(ctx context.Context, tx pgx.Tx, t *model.WalletTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	if t.Counted() {
		if err := adjustBalance(ctx, tx, t.WalletID, t.Amount); err != nil {
			return err
		}
	}

	err := tx.QueryRow(ctx,
		`INSERT INTO wallet_transactions (id, wallet_id, amount, type, status, gateway_ref, description, order_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		t.ID, t.WalletID, t.Amount, string(t.Type), string(t.Status), t.GatewayRef, t.Description, t.OrderID,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func adjustBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) error {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWalletNotFound
		}
		return fmt.Errorf("lock wallet for update: %w", err)
	}

	next := balance.Add(delta)
	if next.IsNegative() {
		return ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = $2, updated_at = NOW() WHERE id = $1`,
		walletID, next,
	); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	return nil
}
