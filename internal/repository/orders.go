package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/essaymarket/internal/model"
)

const orderColumns = `id, assignment_code, paper_type, subject, topic, instructions, citation_style,
	sources, pages, words, base_price_per_page, price_per_page, total_price, discount, final_price,
	client_id, writer_id, status, deadline, created_at, updated_at`

// OrderFilter ограничивает выборку заказов.
// Пустой фильтр возвращает все заказы.
type OrderFilter struct {
	ClientID *uuid.UUID
	WriterID *uuid.UUID
	// IncludeAvailable добавляет к выборке исполнителя свободные заказы.
	IncludeAvailable bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.AssignmentCode, &o.PaperType, &o.Subject, &o.Topic, &o.Instructions, &o.CitationStyle,
		&o.Sources, &o.Pages, &o.Words, &o.BasePricePerPage, &o.PricePerPage, &o.TotalPrice, &o.Discount, &o.FinalPrice,
		&o.ClientID, &o.WriterID, &status, &o.Deadline, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO orders (id, assignment_code, paper_type, subject, topic, instructions, citation_style,
			sources, pages, words, base_price_per_page, price_per_page, total_price, discount, final_price,
			client_id, writer_id, status, deadline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 RETURNING created_at, updated_at`,
		o.ID, o.AssignmentCode, o.PaperType, o.Subject, o.Topic, o.Instructions, o.CitationStyle,
		o.Sources, o.Pages, o.Words, o.BasePricePerPage, o.PricePerPage, o.TotalPrice, o.Discount, o.FinalPrice,
		o.ClientID, o.WriterID, string(o.Status), o.Deadline,
	)
	if err := row.Scan(&o.CreatedAt, &o.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateAssignmentCode, o.AssignmentCode)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	var (
		conds []string
		args  []any
	)
	if f.ClientID != nil {
		args = append(args, *f.ClientID)
		conds = append(conds, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if f.WriterID != nil {
		args = append(args, *f.WriterID)
		cond := fmt.Sprintf("writer_id = $%d", len(args))
		if f.IncludeAvailable {
			args = append(args, string(model.OrderStatusAvailable))
			cond = fmt.Sprintf("(%s OR (writer_id IS NULL AND status = $%d))", cond, len(args))
		}
		conds = append(conds, cond)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// ClaimOrder закрепляет свободный заказ за исполнителем.
// Обновление условное, поэтому из двух одновременных попыток успешна только одна.
func (r *PostgresRepository) ClaimOrder(ctx context.Context, orderID, writerID uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`UPDATE orders SET writer_id = $2, status = $3, updated_at = NOW()
		 WHERE id = $1 AND writer_id IS NULL AND status = $4
		 RETURNING `+orderColumns,
		orderID, writerID, string(status), string(model.OrderStatusAvailable),
	))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim order: %w", err)
	}

	if _, err := r.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return nil, ErrOrderAlreadyClaimed
}

// ReleaseOrder снимает исполнителя с заказа и возвращает заказ в список свободных.
func (r *PostgresRepository) ReleaseOrder(ctx context.Context, orderID, writerID uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`UPDATE orders SET writer_id = NULL, status = $3, updated_at = NOW()
		 WHERE id = $1 AND writer_id = $2
		 RETURNING `+orderColumns,
		orderID, writerID, string(model.OrderStatusAvailable),
	))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("release order: %w", err)
	}

	if _, err := r.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return nil, ErrOrderNotAssigned
}

// UpdateOrderStatus меняет статус заказа, если он всё ещё равен from.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to model.OrderStatus) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`UPDATE orders SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $2
		 RETURNING `+orderColumns,
		orderID, string(from), string(to),
	))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if _, err := r.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return nil, ErrOrderStatusChanged
}

// AdminUpdateOrder безусловно выставляет статус и исполнителя заказа.
func (r *PostgresRepository) AdminUpdateOrder(ctx context.Context, orderID uuid.UUID, status model.OrderStatus, writerID *uuid.UUID) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`UPDATE orders SET status = $2, writer_id = $3, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+orderColumns,
		orderID, string(status), writerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("admin update order: %w", err)
	}
	return o, nil
}

// PayOrder списывает стоимость заказа с кошелька клиента и публикует заказ для исполнителей.
// Списание, запись в журнал и смена статуса выполняются в одной транзакции.
func (r *PostgresRepository) PayOrder(ctx context.Context, orderID, walletID uuid.UUID) (*model.Order, *model.WalletTransaction, error) {
	var (
		order  *model.Order
		ledger *model.WalletTransaction
	)

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		if o.Status != model.OrderStatusAwaitingPayment {
			return ErrOrderStatusChanged
		}

		t := &model.WalletTransaction{
			ID:          uuid.New(),
			WalletID:    walletID,
			Amount:      o.FinalPrice.Neg(),
			Type:        model.TransactionPayment,
			Status:      model.TransactionCompleted,
			Description: "Payment for order " + o.AssignmentCode,
			OrderID:     &o.ID,
		}
		if err := applyTransaction(ctx, tx, t); err != nil {
			return err
		}

		order, err = scanOrder(tx.QueryRow(ctx,
			`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING `+orderColumns,
			orderID, string(model.OrderStatusAvailable)))
		if err != nil {
			return fmt.Errorf("publish order: %w", err)
		}
		ledger = t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return order, ledger, nil
}
