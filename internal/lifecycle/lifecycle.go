// Package lifecycle содержит таблицу допустимых переходов статусов заказа по ролям.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/essaymarket/internal/model"
)

// ErrTransitionNotAllowed возвращается, если роль не может перевести заказ в запрошенный статус.
var ErrTransitionNotAllowed = errors.New("status transition not allowed")

type key struct {
	from model.OrderStatus
	role model.Role
}

type statusSet map[model.OrderStatus]struct{}

func setOf(statuses ...model.OrderStatus) statusSet {
	s := make(statusSet, len(statuses))
	for _, st := range statuses {
		s[st] = struct{}{}
	}
	return s
}

// WriterWorkingStatuses - статусы, между которыми исполнитель переключает заказ сам.
var WriterWorkingStatuses = []model.OrderStatus{
	model.OrderStatusNotStarted,
	model.OrderStatusInProgress,
	model.OrderStatusOnHold,
	model.OrderStatusSubmitted,
	model.OrderStatusRevisionInProgress,
	model.OrderStatusResubmitted,
}

// ClaimStatuses - статусы, в которые переходит заказ при взятии исполнителем.
var ClaimStatuses = []model.OrderStatus{
	model.OrderStatusClaimed,
	model.OrderStatusInProgress,
}

var table = buildTable()

func buildTable() map[key]statusSet {
	t := make(map[key]statusSet)

	t[key{model.OrderStatusAvailable, model.RoleWriter}] = setOf(ClaimStatuses...)

	owned := append([]model.OrderStatus{model.OrderStatusClaimed, model.OrderStatusWriterAssigned}, WriterWorkingStatuses...)
	for _, from := range owned {
		allowed := setOf(model.OrderStatusAvailable)
		for _, to := range WriterWorkingStatuses {
			if to != from {
				allowed[to] = struct{}{}
			}
		}
		t[key{from, model.RoleWriter}] = allowed
	}

	t[key{model.OrderStatusAwaitingPayment, model.RoleClient}] = setOf(model.OrderStatusCancelled)
	t[key{model.OrderStatusDelivered, model.RoleClient}] = setOf(
		model.OrderStatusCompleted,
		model.OrderStatusRevisionsRequested,
	)

	return t
}

// Allowed сообщает, может ли роль перевести заказ из статуса from в статус to.
// Администратор не ограничен, в том числе для завершённых заказов.
func Allowed(role model.Role, from, to model.OrderStatus) bool {
	if !to.Valid() {
		return false
	}
	if role == model.RoleAdmin {
		return true
	}
	_, ok := table[key{from, role}][to]
	return ok
}

// Check возвращает ErrTransitionNotAllowed, если переход запрещён.
func Check(role model.Role, from, to model.OrderStatus) error {
	if !Allowed(role, from, to) {
		return fmt.Errorf("%w: %s cannot move order from %s to %s", ErrTransitionNotAllowed, role, from, to)
	}
	return nil
}

// Targets возвращает статусы, доступные роли из статуса from.
func Targets(role model.Role, from model.OrderStatus) []model.OrderStatus {
	var res []model.OrderStatus
	for _, to := range model.AllOrderStatuses {
		if to != from && Allowed(role, from, to) {
			res = append(res, to)
		}
	}
	return res
}

// WriterOwned сообщает, что заказ в этом статусе находится в работе у исполнителя.
func WriterOwned(s model.OrderStatus) bool {
	_, ok := table[key{s, model.RoleWriter}][model.OrderStatusAvailable]
	return ok
}
