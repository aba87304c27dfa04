package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/essaymarket/internal/lifecycle"
	"github.com/mmeshcher/essaymarket/internal/model"
	"github.com/mmeshcher/essaymarket/internal/notify"
	"github.com/mmeshcher/essaymarket/internal/pricing"
	"github.com/mmeshcher/essaymarket/internal/repository"
	"github.com/mmeshcher/essaymarket/internal/validation"
)

// OrderInput - поля формы нового заказа.
type OrderInput struct {
	PaperType     string
	Subject       string
	Topic         string
	Instructions  string
	CitationStyle string
	Sources       int
	Pages         int
	Deadline      time.Time
}

// AdminOrderUpdate - правка заказа администратором. Nil-поля не меняются.
type AdminOrderUpdate struct {
	Status      *model.OrderStatus
	WriterID    *uuid.UUID
	ClearWriter bool
}

const assignmentCodeAttempts = 3

// Quote рассчитывает стоимость заказа по текущим тарифам.
func (s *Service) Quote(ctx context.Context, pages int, due time.Time) pricing.Quote {
	return pricing.Calculate(pages, due, s.settings.Get(ctx).Rates(), s.now())
}

// CreateOrder проверяет форму, рассчитывает цену и сохраняет заказ в статусе ожидания оплаты.
func (s *Service) CreateOrder(ctx context.Context, actor *model.Profile, in OrderInput) (*model.Order, error) {
	if actor.Role != model.RoleClient {
		return nil, ErrForbidden
	}

	st := s.settings.Get(ctx)
	if st.MaintenanceMode {
		return nil, ErrMaintenance
	}

	now := s.now()
	form := st.OrderForm
	checks := []error{
		validation.Required("paperType", in.PaperType),
		validation.OneOf("paperType", in.PaperType, form.PaperTypes),
		validation.Required("subject", in.Subject),
		validation.Required("instructions", in.Instructions),
		validation.Pages(in.Pages, form.MaxPages),
		validation.Deadline(in.Deadline, now),
	}
	if form.ShowCitationStyle && in.CitationStyle != "" {
		checks = append(checks, validation.OneOf("citationStyle", in.CitationStyle, form.CitationStyles))
	}
	if in.Sources < 0 {
		checks = append(checks, fmt.Errorf("%w: sources must not be negative", validation.ErrInvalid))
	}
	if err := errors.Join(checks...); err != nil {
		return nil, err
	}

	rates := st.Rates()
	q := pricing.Calculate(in.Pages, in.Deadline, rates, now)

	o := &model.Order{
		PaperType:        in.PaperType,
		Subject:          strings.TrimSpace(in.Subject),
		Topic:            strings.TrimSpace(in.Topic),
		Instructions:     in.Instructions,
		CitationStyle:    in.CitationStyle,
		Sources:          in.Sources,
		Pages:            q.Pages,
		Words:            q.Words,
		Deadline:         in.Deadline.UTC(),
		BasePricePerPage: rates.BasePricePerPage,
		PricePerPage:     q.PricePerPage,
		TotalPrice:       q.TotalPrice,
		Discount:         q.Discount,
		FinalPrice:       q.FinalPrice,
		ClientID:         actor.ID,
		Status:           model.OrderStatusAwaitingPayment,
	}

	var err error
	for i := 0; i < assignmentCodeAttempts; i++ {
		o.ID = uuid.New()
		o.AssignmentCode = newAssignmentCode()
		err = s.repo.CreateOrder(ctx, o)
		if !errors.Is(err, repository.ErrDuplicateAssignmentCode) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("assignment_code", o.AssignmentCode),
		zap.String("final_price", o.FinalPrice.StringFixed(2)),
	)
	s.metrics.OrderTransition(string(o.Status), string(actor.Role))
	s.publish(ctx, notify.Event{
		Type:    notify.EventOrderCreated,
		UserID:  actor.ID.String(),
		OrderID: o.ID.String(),
		Status:  string(o.Status),
		Amount:  o.FinalPrice.StringFixed(2),
	})

	return o, nil
}

func newAssignmentCode() string {
	id := uuid.New()
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// ListOrders возвращает заказы, видимые пользователю: клиенту свои, исполнителю назначенные
// и свободные, администратору все.
func (s *Service) ListOrders(ctx context.Context, actor *model.Profile) ([]model.Order, error) {
	var f repository.OrderFilter
	switch actor.Role {
	case model.RoleClient:
		f.ClientID = &actor.ID
	case model.RoleWriter:
		f.WriterID = &actor.ID
		f.IncludeAvailable = true
	case model.RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	return s.repo.ListOrders(ctx, f)
}

// GetOrder возвращает заказ, если пользователь вправе его видеть.
func (s *Service) GetOrder(ctx context.Context, actor *model.Profile, id uuid.UUID) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, o) {
		return nil, ErrForbidden
	}
	return o, nil
}

func canView(actor *model.Profile, o *model.Order) bool {
	switch actor.Role {
	case model.RoleAdmin:
		return true
	case model.RoleClient:
		return o.ClientID == actor.ID
	case model.RoleWriter:
		if o.WriterID != nil {
			return *o.WriterID == actor.ID
		}
		return o.Status == model.OrderStatusAvailable
	}
	return false
}

func assignedTo(o *model.Order, writerID uuid.UUID) bool {
	return o.WriterID != nil && *o.WriterID == writerID
}

// PayOrder оплачивает заказ из кошелька клиента и делает его доступным исполнителям.
func (s *Service) PayOrder(ctx context.Context, actor *model.Profile, id uuid.UUID) (*model.Order, *model.WalletTransaction, error) {
	if actor.Role != model.RoleClient {
		return nil, nil, ErrForbidden
	}

	st := s.settings.Get(ctx)
	if st.MaintenanceMode {
		return nil, nil, ErrMaintenance
	}

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if o.ClientID != actor.ID {
		return nil, nil, ErrForbidden
	}
	if o.Status != model.OrderStatusAwaitingPayment {
		return nil, nil, ErrNotPayable
	}

	wallet, err := s.repo.GetOrCreateWallet(ctx, actor.ID, st.Currency)
	if err != nil {
		return nil, nil, err
	}

	paid, t, err := s.repo.PayOrder(ctx, o.ID, wallet.ID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderStatusChanged) {
			return nil, nil, ErrNotPayable
		}
		return nil, nil, err
	}

	s.logger.Info("order paid", zap.String("order_id", paid.ID.String()), zap.String("amount", paid.FinalPrice.StringFixed(2)))
	s.metrics.WalletTransaction(string(t.Type), string(t.Status))
	s.orderChanged(ctx, actor, paid)
	s.publish(ctx, notify.Event{
		Type:    notify.EventWalletTransaction,
		UserID:  actor.ID.String(),
		OrderID: paid.ID.String(),
		Status:  string(t.Status),
		Amount:  t.Amount.StringFixed(2),
		Message: t.Description,
	})

	return paid, t, nil
}

// ClaimOrder закрепляет свободный заказ за исполнителем. Пустой статус означает claimed.
func (s *Service) ClaimOrder(ctx context.Context, actor *model.Profile, id uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	if actor.Role != model.RoleWriter {
		return nil, ErrForbidden
	}
	if status == "" {
		status = model.OrderStatusClaimed
	}
	if err := lifecycle.Check(actor.Role, model.OrderStatusAvailable, status); err != nil {
		return nil, err
	}

	o, err := s.repo.ClaimOrder(ctx, id, actor.ID, status)
	if err != nil {
		return nil, err
	}

	s.orderChanged(ctx, actor, o)
	return o, nil
}

// ReleaseOrder возвращает заказ исполнителя в список свободных.
func (s *Service) ReleaseOrder(ctx context.Context, actor *model.Profile, id uuid.UUID) (*model.Order, error) {
	if actor.Role != model.RoleWriter {
		return nil, ErrForbidden
	}

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !assignedTo(o, actor.ID) {
		return nil, ErrForbidden
	}
	if err := lifecycle.Check(actor.Role, o.Status, model.OrderStatusAvailable); err != nil {
		return nil, err
	}

	released, err := s.repo.ReleaseOrder(ctx, id, actor.ID)
	if err != nil {
		return nil, err
	}

	s.orderChanged(ctx, actor, released)
	return released, nil
}

// ChangeStatus переводит заказ в новый статус по таблице переходов роли.
func (s *Service) ChangeStatus(ctx context.Context, actor *model.Profile, id uuid.UUID, to model.OrderStatus) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case model.RoleAdmin:
		return s.AdminUpdateOrder(ctx, actor, id, AdminOrderUpdate{Status: &to})
	case model.RoleWriter:
		if o.Status == model.OrderStatusAvailable && o.WriterID == nil {
			return s.ClaimOrder(ctx, actor, id, to)
		}
		if !assignedTo(o, actor.ID) {
			return nil, ErrForbidden
		}
		if to == model.OrderStatusAvailable {
			return s.ReleaseOrder(ctx, actor, id)
		}
	case model.RoleClient:
		if o.ClientID != actor.ID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}

	if err := lifecycle.Check(actor.Role, o.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, id, o.Status, to)
	if err != nil {
		return nil, err
	}

	s.orderChanged(ctx, actor, updated)
	return updated, nil
}

// AdminUpdateOrder меняет статус и исполнителя без ограничений таблицы переходов.
func (s *Service) AdminUpdateOrder(ctx context.Context, actor *model.Profile, id uuid.UUID, upd AdminOrderUpdate) (*model.Order, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	status := o.Status
	if upd.Status != nil {
		if !lifecycle.Allowed(actor.Role, o.Status, *upd.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", validation.ErrInvalid, *upd.Status)
		}
		status = *upd.Status
	}

	writerID := o.WriterID
	switch {
	case upd.ClearWriter:
		writerID = nil
	case upd.WriterID != nil:
		writer, err := s.repo.GetProfile(ctx, *upd.WriterID)
		if err != nil {
			if errors.Is(err, repository.ErrProfileNotFound) {
				return nil, fmt.Errorf("%w: writer %s not found", validation.ErrInvalid, upd.WriterID)
			}
			return nil, err
		}
		if writer.Role != model.RoleWriter {
			return nil, fmt.Errorf("%w: user %s is not a writer", validation.ErrInvalid, upd.WriterID)
		}
		writerID = upd.WriterID
	}

	updated, err := s.repo.AdminUpdateOrder(ctx, id, status, writerID)
	if err != nil {
		return nil, err
	}

	s.orderChanged(ctx, actor, updated)
	return updated, nil
}

func (s *Service) orderChanged(ctx context.Context, actor *model.Profile, o *model.Order) {
	s.logger.Info("order status changed",
		zap.String("order_id", o.ID.String()),
		zap.String("status", string(o.Status)),
		zap.String("role", string(actor.Role)),
	)
	s.metrics.OrderTransition(string(o.Status), string(actor.Role))
	s.publish(ctx, notify.Event{
		Type:    notify.EventOrderStatusChanged,
		UserID:  o.ClientID.String(),
		OrderID: o.ID.String(),
		Status:  string(o.Status),
	})
}
