package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/essaymarket/internal/model"
	"github.com/mmeshcher/essaymarket/internal/notify"
	"github.com/mmeshcher/essaymarket/internal/paypal"
	"github.com/mmeshcher/essaymarket/internal/repository"
	"github.com/mmeshcher/essaymarket/internal/validation"
)

// Статусы PayPal.
const (
	captureCompleted = "COMPLETED"
	payoutSuccess    = "SUCCESS"
)

// payoutFailureStatuses - статусы выплаты, после которых средства возвращаются на баланс.
var payoutFailureStatuses = map[string]struct{}{
	"DENIED":   {},
	"CANCELED": {},
	"FAILED":   {},
	"RETURNED": {},
	"BLOCKED":  {},
	"REFUNDED": {},
	"REVERSED": {},
}

// Типы событий вебхука PayPal.
const (
	eventCaptureCompleted    = "PAYMENT.CAPTURE.COMPLETED"
	eventCaptureDenied       = "PAYMENT.CAPTURE.DENIED"
	eventPayoutItemSucceeded = "PAYMENT.PAYOUTS-ITEM.SUCCEEDED"
	eventPayoutItemFailed    = "PAYMENT.PAYOUTS-ITEM.FAILED"
	eventPayoutItemDenied    = "PAYMENT.PAYOUTS-ITEM.DENIED"
	eventPayoutItemReturned  = "PAYMENT.PAYOUTS-ITEM.RETURNED"
	eventPayoutItemBlocked   = "PAYMENT.PAYOUTS-ITEM.BLOCKED"
	eventPayoutItemCanceled  = "PAYMENT.PAYOUTS-ITEM.CANCELED"
	eventPayoutItemRefunded  = "PAYMENT.PAYOUTS-ITEM.REFUNDED"
)

// DepositResult - ответ на создание пополнения.
type DepositResult struct {
	OrderID       string
	Order         *paypal.Order
	TransactionID uuid.UUID
}

// CaptureResult - ответ на подтверждение пополнения.
type CaptureResult struct {
	Status  string
	Capture *paypal.Order
	// AlreadyCompleted означает, что пополнение было зачислено раньше и повторно не применялось.
	AlreadyCompleted bool
}

// PayoutResult - ответ на запрос выплаты.
type PayoutResult struct {
	BatchID       string
	TransactionID uuid.UUID
}

// PayoutStatus - состояние выплаты после сверки с PayPal.
type PayoutStatus struct {
	Status       model.TransactionStatus
	PayPalStatus string
	Details      *paypal.PayoutBatch
}

// Wallet возвращает кошелёк пользователя, создавая его при первом обращении.
func (s *Service) Wallet(ctx context.Context, actor *model.Profile) (*model.Wallet, error) {
	return s.repo.GetOrCreateWallet(ctx, actor.ID, s.Settings(ctx).Currency)
}

// Transactions возвращает журнал операций кошелька пользователя.
func (s *Service) Transactions(ctx context.Context, actor *model.Profile) ([]model.WalletTransaction, error) {
	w, err := s.Wallet(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, w.ID)
}

// ownedWallet проверяет, что кошелёк принадлежит пользователю.
func (s *Service) ownedWallet(ctx context.Context, actor *model.Profile, walletID uuid.UUID) (*model.Wallet, error) {
	w, err := s.Wallet(ctx, actor)
	if err != nil {
		return nil, err
	}
	if w.ID != walletID {
		return nil, ErrForbidden
	}
	return w, nil
}

func (s *Service) upstream(op string, err error) error {
	s.metrics.PayPalCall(op, err)
	if err == nil {
		return nil
	}
	if errors.Is(err, paypal.ErrNotConfigured) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// CreateDeposit создаёт заказ PayPal на пополнение и записывает ожидающую операцию.
func (s *Service) CreateDeposit(ctx context.Context, actor *model.Profile, amount decimal.Decimal, walletID uuid.UUID) (*DepositResult, error) {
	st := s.Settings(ctx)
	if err := validation.AmountInRange(amount, decimal.NewFromFloat(st.Wallet.MinimumDeposit), decimal.Zero); err != nil {
		return nil, err
	}

	w, err := s.ownedWallet(ctx, actor, walletID)
	if err != nil {
		return nil, err
	}

	order, err := s.gateway.CreateOrder(ctx, paypal.CreateOrderRequest{
		Amount:      amount.StringFixed(2),
		Currency:    s.paymentCurrency(st),
		CustomID:    w.ID.String(),
		Description: st.PlatformName + " wallet deposit",
	})
	if err := s.upstream("create_order", err); err != nil {
		return nil, err
	}

	t := &model.WalletTransaction{
		WalletID:    w.ID,
		Amount:      amount,
		Type:        model.TransactionDeposit,
		Status:      model.TransactionPending,
		GatewayRef:  order.ID,
		Description: "PayPal deposit",
	}
	if err := s.repo.RecordTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("record deposit: %w", err)
	}

	s.logger.Info("deposit created", zap.String("paypal_order_id", order.ID), zap.String("wallet_id", w.ID.String()))
	s.metrics.WalletTransaction(string(t.Type), string(t.Status))

	return &DepositResult{OrderID: order.ID, Order: order, TransactionID: t.ID}, nil
}

// CaptureDeposit подтверждает оплату в PayPal и зачисляет пополнение. Повторный вызов
// для уже зачисленного пополнения баланс не меняет.
func (s *Service) CaptureDeposit(ctx context.Context, actor *model.Profile, paypalOrderID string, walletID uuid.UUID) (*CaptureResult, error) {
	if err := validation.Required("orderId", paypalOrderID); err != nil {
		return nil, err
	}

	w, err := s.ownedWallet(ctx, actor, walletID)
	if err != nil {
		return nil, err
	}

	t, err := s.repo.FindTransactionByGatewayRef(ctx, paypalOrderID, model.TransactionDeposit)
	if err != nil {
		return nil, err
	}
	if t.WalletID != w.ID {
		return nil, ErrForbidden
	}

	switch t.Status {
	case model.TransactionCompleted:
		return &CaptureResult{Status: captureCompleted, AlreadyCompleted: true}, nil
	case model.TransactionFailed:
		return nil, fmt.Errorf("%w: deposit %s has failed", validation.ErrInvalid, paypalOrderID)
	}

	captured, err := s.gateway.CaptureOrder(ctx, paypalOrderID)
	if err := s.upstream("capture_order", err); err != nil {
		return nil, err
	}

	if captured.Status == captureCompleted {
		if _, err := s.complete(ctx, t.ID); err != nil {
			return nil, err
		}
	}

	return &CaptureResult{Status: captured.Status, Capture: captured}, nil
}

// RequestPayout списывает сумму с кошелька и отправляет выплату через PayPal.
// Если PayPal отклонил запрос, списание сразу компенсируется возвратом.
func (s *Service) RequestPayout(ctx context.Context, actor *model.Profile, amount decimal.Decimal, walletID uuid.UUID, email string) (*PayoutResult, error) {
	st := s.Settings(ctx)
	if err := validation.AmountInRange(amount,
		decimal.NewFromFloat(st.Wallet.MinimumWithdrawal),
		decimal.NewFromFloat(st.Wallet.MaximumWithdrawal),
	); err != nil {
		return nil, err
	}
	if err := validation.Email(email); err != nil {
		return nil, err
	}

	w, err := s.ownedWallet(ctx, actor, walletID)
	if err != nil {
		return nil, err
	}

	t := &model.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    w.ID,
		Amount:      amount.Neg(),
		Type:        model.TransactionWithdrawal,
		Status:      model.TransactionPending,
		Description: "PayPal payout to " + email,
	}
	if err := s.repo.RecordTransaction(ctx, t); err != nil {
		return nil, err
	}
	s.metrics.WalletTransaction(string(t.Type), string(t.Status))

	batch, err := s.gateway.CreatePayout(ctx, paypal.PayoutRequest{
		SenderBatchID: t.ID.String(),
		SenderItemID:  t.ID.String(),
		Receiver:      email,
		Amount:        amount.StringFixed(2),
		Currency:      s.paymentCurrency(st),
		Note:          st.PlatformName + " withdrawal",
	})
	if err := s.upstream("create_payout", err); err != nil {
		if _, ferr := s.fail(ctx, t.ID, "payout request rejected"); ferr != nil {
			s.logger.Error("compensate payout failed", zap.String("transaction_id", t.ID.String()), zap.Error(ferr))
		}
		return nil, err
	}

	batchID := batch.BatchHeader.PayoutBatchID
	if err := s.repo.SetGatewayRef(ctx, t.ID, batchID); err != nil {
		return nil, fmt.Errorf("store payout batch id: %w", err)
	}

	s.logger.Info("payout requested",
		zap.String("transaction_id", t.ID.String()),
		zap.String("payout_batch_id", batchID),
		zap.String("amount", amount.StringFixed(2)),
	)

	return &PayoutResult{BatchID: batchID, TransactionID: t.ID}, nil
}

// CheckPayout сверяет состояние выплаты с PayPal. Успех завершает операцию, отказ
// возвращает средства на баланс. Обработанная ранее операция не меняется.
func (s *Service) CheckPayout(ctx context.Context, actor *model.Profile, transactionID uuid.UUID) (*PayoutStatus, error) {
	t, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.Type != model.TransactionWithdrawal {
		return nil, fmt.Errorf("%w: transaction %s is not a withdrawal", validation.ErrInvalid, transactionID)
	}
	if actor.Role != model.RoleAdmin {
		if _, err := s.ownedWallet(ctx, actor, t.WalletID); err != nil {
			return nil, err
		}
	}
	if t.GatewayRef == "" {
		return nil, fmt.Errorf("%w: payout %s was not sent to PayPal", validation.ErrInvalid, transactionID)
	}

	batch, err := s.gateway.GetPayoutBatch(ctx, t.GatewayRef)
	if err := s.upstream("get_payout", err); err != nil {
		return nil, err
	}

	ppStatus := batch.Status()
	switch {
	case ppStatus == payoutSuccess:
		if _, err := s.complete(ctx, t.ID); err != nil {
			return nil, err
		}
	case isPayoutFailure(ppStatus):
		if _, err := s.fail(ctx, t.ID, "PayPal payout "+ppStatus); err != nil {
			return nil, err
		}
	}

	current, err := s.repo.GetTransaction(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	return &PayoutStatus{Status: current.Status, PayPalStatus: ppStatus, Details: batch}, nil
}

func isPayoutFailure(status string) bool {
	_, ok := payoutFailureStatuses[status]
	return ok
}

type webhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

type captureResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type payoutItemResource struct {
	PayoutItemID      string `json:"payout_item_id"`
	PayoutBatchID     string `json:"payout_batch_id"`
	TransactionStatus string `json:"transaction_status"`
	PayoutItem        struct {
		SenderItemID string `json:"sender_item_id"`
	} `json:"payout_item"`
}

// HandleWebhook проверяет подпись события PayPal и применяет его к журналу.
// Повторная доставка события не меняет баланс.
func (s *Service) HandleWebhook(ctx context.Context, headers paypal.WebhookHeaders, body json.RawMessage) error {
	ok, err := s.gateway.VerifyWebhookSignature(ctx, headers, body)
	if err := s.upstream("verify_webhook", err); err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: malformed webhook event", validation.ErrInvalid)
	}

	switch evt.EventType {
	case eventCaptureCompleted, eventCaptureDenied:
		var res captureResource
		if err := json.Unmarshal(evt.Resource, &res); err != nil {
			return fmt.Errorf("%w: malformed capture resource", validation.ErrInvalid)
		}
		t, err := s.repo.FindTransactionByGatewayRef(ctx, res.SupplementaryData.RelatedIDs.OrderID, model.TransactionDeposit)
		if err != nil {
			return err
		}
		if evt.EventType == eventCaptureCompleted {
			_, err = s.complete(ctx, t.ID)
		} else {
			_, err = s.fail(ctx, t.ID, "PayPal capture denied")
		}
		return err

	case eventPayoutItemSucceeded, eventPayoutItemFailed, eventPayoutItemDenied, eventPayoutItemReturned,
		eventPayoutItemBlocked, eventPayoutItemCanceled, eventPayoutItemRefunded:
		var res payoutItemResource
		if err := json.Unmarshal(evt.Resource, &res); err != nil {
			return fmt.Errorf("%w: malformed payout item resource", validation.ErrInvalid)
		}
		t, err := s.findWithdrawal(ctx, res)
		if err != nil {
			return err
		}
		if evt.EventType == eventPayoutItemSucceeded {
			_, err = s.complete(ctx, t.ID)
		} else {
			_, err = s.fail(ctx, t.ID, "PayPal payout "+res.TransactionStatus)
		}
		return err

	default:
		s.logger.Info("webhook event ignored", zap.String("event_id", evt.ID), zap.String("event_type", evt.EventType))
		return nil
	}
}

func (s *Service) findWithdrawal(ctx context.Context, res payoutItemResource) (*model.WalletTransaction, error) {
	t, err := s.repo.FindTransactionByGatewayRef(ctx, res.PayoutBatchID, model.TransactionWithdrawal)
	if err == nil || !errors.Is(err, repository.ErrTransactionNotFound) {
		return t, err
	}

	// Вебхук может прийти раньше, чем сохранён идентификатор пакета.
	id, perr := uuid.Parse(res.PayoutItem.SenderItemID)
	if perr != nil {
		return nil, err
	}
	return s.repo.GetTransaction(ctx, id)
}

// complete завершает ожидающую операцию и публикует уведомление, если она изменилась.
func (s *Service) complete(ctx context.Context, id uuid.UUID) (bool, error) {
	t, changed, err := s.repo.CompleteTransaction(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete transaction: %w", err)
	}
	if changed {
		s.ledgerChanged(ctx, t)
	}
	return changed, nil
}

// fail помечает ожидающую операцию неуспешной; для списаний в журнал добавляется возврат.
func (s *Service) fail(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	refund, changed, err := s.repo.FailTransaction(ctx, id, reason)
	if err != nil {
		return false, fmt.Errorf("fail transaction: %w", err)
	}
	if !changed {
		return false, nil
	}

	s.logger.Warn("transaction failed", zap.String("transaction_id", id.String()), zap.String("reason", reason))
	if refund != nil {
		s.ledgerChanged(ctx, refund)
	}
	return true, nil
}

// ledgerChanged уведомляет владельца кошелька, а не того, кто инициировал изменение.
func (s *Service) ledgerChanged(ctx context.Context, t *model.WalletTransaction) {
	s.metrics.WalletTransaction(string(t.Type), string(t.Status))

	e := notify.Event{
		Type:    notify.EventWalletTransaction,
		Status:  string(t.Status),
		Amount:  t.Amount.StringFixed(2),
		Message: t.Description,
	}
	if w, err := s.repo.GetWallet(ctx, t.WalletID); err != nil {
		s.logger.Warn("resolve wallet owner failed", zap.String("wallet_id", t.WalletID.String()), zap.Error(err))
	} else {
		e.UserID = w.UserID.String()
	}
	if t.OrderID != nil {
		e.OrderID = t.OrderID.String()
	}
	s.publish(ctx, e)
}
