// Package model содержит доменные сущности биржи академических работ.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя на платформе.
type Role string

const (
	RoleClient Role = "client"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

// Valid сообщает, является ли роль известной.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleWriter, RoleAdmin:
		return true
	}
	return false
}

// Profile описывает пользователя, хранимого вместе с его ролью.
type Profile struct {
	ID        uuid.UUID
	Email     string
	Role      Role
	CreatedAt time.Time
}

// OrderStatus описывает статус заказа. Значения совпадают с передаваемыми по сети строками.
type OrderStatus string

const (
	OrderStatusAwaitingPayment        OrderStatus = "awaiting_payment"
	OrderStatusPaymentConfirmed       OrderStatus = "payment_confirmed"
	OrderStatusWriterAssigned         OrderStatus = "writer_assigned"
	OrderStatusNotStarted             OrderStatus = "not_started"
	OrderStatusInProgress             OrderStatus = "in_progress"
	OrderStatusOnHold                 OrderStatus = "on_hold"
	OrderStatusAwaitingClientFeedback OrderStatus = "awaiting_client_feedback"
	OrderStatusRevisionInProgress     OrderStatus = "revision_in_progress"
	OrderStatusRevisionsRequested     OrderStatus = "revisions_requested"
	OrderStatusQualityCheck           OrderStatus = "quality_check"
	OrderStatusDelivered              OrderStatus = "delivered"
	OrderStatusCompleted              OrderStatus = "completed"
	OrderStatusDisputed               OrderStatus = "disputed"
	OrderStatusCancelled              OrderStatus = "cancelled"
	OrderStatusRefunded               OrderStatus = "refunded"
	OrderStatusAvailable              OrderStatus = "available"
	OrderStatusClaimed                OrderStatus = "claimed"
	OrderStatusSubmitted              OrderStatus = "submitted"
	OrderStatusUnderReview            OrderStatus = "under_review"
	OrderStatusResubmitted            OrderStatus = "resubmitted"
)

// AllOrderStatuses перечисляет все статусы заказа.
var AllOrderStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusPaymentConfirmed,
	OrderStatusWriterAssigned,
	OrderStatusNotStarted,
	OrderStatusInProgress,
	OrderStatusOnHold,
	OrderStatusAwaitingClientFeedback,
	OrderStatusRevisionInProgress,
	OrderStatusRevisionsRequested,
	OrderStatusQualityCheck,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusDisputed,
	OrderStatusCancelled,
	OrderStatusRefunded,
	OrderStatusAvailable,
	OrderStatusClaimed,
	OrderStatusSubmitted,
	OrderStatusUnderReview,
	OrderStatusResubmitted,
}

// Valid сообщает, входит ли статус в перечисление.
func (s OrderStatus) Valid() bool {
	for _, v := range AllOrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// WordsPerPage - число слов на одной странице работы.
const WordsPerPage = 275

// Order описывает заказ на написание работы.
type Order struct {
	ID             uuid.UUID
	AssignmentCode string

	PaperType      string
	Subject        string
	Topic          string
	Instructions   string
	CitationStyle  string
	Sources        int
	Pages          int
	Words          int
	CreatedAt      time.Time
	Deadline       time.Time
	UpdatedAt      time.Time

	BasePricePerPage decimal.Decimal
	PricePerPage     decimal.Decimal
	TotalPrice       decimal.Decimal
	Discount         decimal.Decimal
	FinalPrice       decimal.Decimal

	ClientID uuid.UUID
	WriterID *uuid.UUID
	Status   OrderStatus
}

// Claimed сообщает, закреплён ли заказ за исполнителем.
func (o *Order) Claimed() bool {
	return o.WriterID != nil
}

// Wallet содержит баланс пользователя.
type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Balance   decimal.Decimal
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionType описывает вид операции по кошельку.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionPayment    TransactionType = "payment"
	TransactionRefund     TransactionType = "refund"
)

// Credit сообщает, увеличивает ли операция данного типа баланс.
func (t TransactionType) Credit() bool {
	return t == TransactionDeposit || t == TransactionRefund
}

// TransactionStatus описывает состояние операции по кошельку.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// WalletTransaction - запись журнала операций кошелька.
// Amount положителен для пополнений и возвратов и отрицателен для выводов и оплат.
type WalletTransaction struct {
	ID          uuid.UUID
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Type        TransactionType
	Status      TransactionStatus
	GatewayRef  string
	Description string
	OrderID     *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Counted сообщает, входит ли запись в баланс кошелька.
// Списание учитывается с момента записи (средства зарезервированы), а его неуспех
// компенсируется отдельной записью возврата. Пополнение учитывается только после завершения.
func (t WalletTransaction) Counted() bool {
	if t.Amount.IsNegative() {
		return true
	}
	return t.Status == TransactionCompleted
}

// LedgerBalance вычисляет баланс кошелька по журналу операций.
func LedgerBalance(txs []WalletTransaction) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range txs {
		if t.Counted() {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}

// Session описывает авторизованную сессию браузера.
type Session struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	CreatedAt    time.Time
	LastActivity time.Time
}
