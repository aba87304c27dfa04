package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mmeshcher/essaymarket/internal/deadline"
	"github.com/mmeshcher/essaymarket/internal/lifecycle"
	"github.com/mmeshcher/essaymarket/internal/model"
	"github.com/mmeshcher/essaymarket/internal/service"
)

type orderResponse struct {
	ID               uuid.UUID         `json:"id"`
	AssignmentCode   string            `json:"assignment_code"`
	PaperType        string            `json:"paper_type"`
	Subject          string            `json:"subject"`
	Topic            string            `json:"topic,omitempty"`
	Instructions     string            `json:"instructions"`
	CitationStyle    string            `json:"citation_style,omitempty"`
	Sources          int               `json:"sources"`
	Pages            int               `json:"pages"`
	Words            int               `json:"words"`
	Deadline         string            `json:"deadline"`
	BasePricePerPage string            `json:"base_price_per_page"`
	PricePerPage     string            `json:"price_per_page"`
	TotalPrice       string            `json:"total_price"`
	Discount         string            `json:"discount"`
	FinalPrice       string            `json:"final_price"`
	ClientID         uuid.UUID         `json:"client_id"`
	WriterID         *uuid.UUID        `json:"writer_id"`
	Status           model.OrderStatus `json:"status"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`

	TimeRemaining  string              `json:"timeRemaining"`
	IsPastDeadline bool                `json:"isPastDeadline"`
	IsUrgent       bool                `json:"isUrgent"`
	NextStatuses   []model.OrderStatus `json:"nextStatuses"`
}

func (h *Handler) orderView(o *model.Order, role model.Role) orderResponse {
	now := h.now()
	cd := deadline.Countdown(o.Deadline, now)
	next := lifecycle.Targets(role, o.Status)
	if next == nil {
		next = []model.OrderStatus{}
	}

	return orderResponse{
		ID:               o.ID,
		AssignmentCode:   o.AssignmentCode,
		PaperType:        o.PaperType,
		Subject:          o.Subject,
		Topic:            o.Topic,
		Instructions:     o.Instructions,
		CitationStyle:    o.CitationStyle,
		Sources:          o.Sources,
		Pages:            o.Pages,
		Words:            o.Words,
		Deadline:         o.Deadline.Format(time.RFC3339),
		BasePricePerPage: o.BasePricePerPage.StringFixed(2),
		PricePerPage:     o.PricePerPage.StringFixed(2),
		TotalPrice:       o.TotalPrice.StringFixed(2),
		Discount:         o.Discount.StringFixed(2),
		FinalPrice:       o.FinalPrice.StringFixed(2),
		ClientID:         o.ClientID,
		WriterID:         o.WriterID,
		Status:           o.Status,
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        o.UpdatedAt.Format(time.RFC3339),
		TimeRemaining:    cd.TimeRemaining,
		IsPastDeadline:   cd.IsPastDeadline,
		IsUrgent:         deadline.IsUrgent(o.Deadline, now),
		NextStatuses:     next,
	}
}

type createOrderRequest struct {
	PaperType     string    `json:"paperType"`
	Subject       string    `json:"subject"`
	Topic         string    `json:"topic"`
	Instructions  string    `json:"instructions"`
	CitationStyle string    `json:"citationStyle"`
	Sources       int       `json:"sources"`
	Pages         int       `json:"pages"`
	Deadline      time.Time `json:"deadline"`
}

// CreateOrder создаёт заказ клиента.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.service.CreateOrder(r.Context(), actor, service.OrderInput{
		PaperType:     req.PaperType,
		Subject:       req.Subject,
		Topic:         req.Topic,
		Instructions:  req.Instructions,
		CitationStyle: req.CitationStyle,
		Sources:       req.Sources,
		Pages:         req.Pages,
		Deadline:      req.Deadline,
	})
	if err != nil {
		h.fail(w, "create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, h.orderView(o, actor.Role))
}

// ListOrders возвращает заказы, видимые текущему пользователю.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), actor)
	if err != nil {
		h.fail(w, "list orders", err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, h.orderView(&orders[i], actor.Role))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает один заказ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, "order id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, h.orderView(o, actor.Role))
}

type payOrderResponse struct {
	Success       bool          `json:"success"`
	Order         orderResponse `json:"order"`
	TransactionID uuid.UUID     `json:"transactionId"`
}

// PayOrder оплачивает заказ из кошелька клиента.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, "order id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	o, t, err := h.service.PayOrder(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "pay order", err)
		return
	}
	writeJSON(w, http.StatusOK, payOrderResponse{Success: true, Order: h.orderView(o, actor.Role), TransactionID: t.ID})
}

type claimRequest struct {
	Status model.OrderStatus `json:"status"`
}

// ClaimOrder закрепляет заказ за исполнителем. Тело запроса необязательно.
func (h *Handler) ClaimOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, "order id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req claimRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	o, err := h.service.ClaimOrder(r.Context(), actor, id, req.Status)
	if err != nil {
		h.fail(w, "claim order", err)
		return
	}
	writeJSON(w, http.StatusOK, h.orderView(o, actor.Role))
}

// ReleaseOrder возвращает заказ в список свободных.
func (h *Handler) ReleaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, "order id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	o, err := h.service.ReleaseOrder(r.Context(), actor, id)
	if err != nil {
		h.fail(w, "release order", err)
		return
	}
	writeJSON(w, http.StatusOK, h.orderView(o, actor.Role))
}

type statusRequest struct {
	Status model.OrderStatus `json:"status"`
}

// ChangeStatus меняет статус заказа по таблице переходов.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, "order id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	o, err := h.service.ChangeStatus(r.Context(), actor, id, req.Status)
	if err != nil {
		h.fail(w, "change order status", err)
		return
	}
	writeJSON(w, http.StatusOK, h.orderView(o, actor.Role))
}

type adminUpdateRequest struct {
	Status      *model.OrderStatus `json:"status"`
	WriterID    *uuid.UUID         `json:"writerId"`
	ClearWriter bool               `json:"clearWriter"`
}

// AdminUpdateOrder меняет исполнителя и статус заказа от имени администратора.
func (h *Handler) AdminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, "order id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req adminUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.service.AdminUpdateOrder(r.Context(), actor, id, service.AdminOrderUpdate{
		Status:      req.Status,
		WriterID:    req.WriterID,
		ClearWriter: req.ClearWriter,
	})
	if err != nil {
		h.fail(w, "admin update order", err)
		return
	}
	writeJSON(w, http.StatusOK, h.orderView(o, actor.Role))
}

type quoteRequest struct {
	Pages    int       `json:"pages"`
	Deadline time.Time `json:"deadline"`
}

type quoteResponse struct {
	Pages        int    `json:"pages"`
	Words        int    `json:"words"`
	Hours        int    `json:"hours"`
	Days         int    `json:"days"`
	Multiplier   string `json:"multiplier"`
	PricePerPage string `json:"pricePerPage"`
	TotalPrice   string `json:"totalPrice"`
	Discount     string `json:"discount"`
	FinalPrice   string `json:"finalPrice"`
	Deadline     string `json:"deadlineText"`
	IsUrgent     bool   `json:"isUrgent"`
}

// Quote рассчитывает стоимость заказа без его создания.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Deadline.IsZero() {
		writeError(w, http.StatusBadRequest, "deadline is required")
		return
	}

	q := h.service.Quote(r.Context(), req.Pages, req.Deadline)
	writeJSON(w, http.StatusOK, quoteResponse{
		Pages:        q.Pages,
		Words:        q.Words,
		Hours:        q.Hours,
		Days:         q.Days,
		Multiplier:   q.Multiplier.String(),
		PricePerPage: q.PricePerPage.StringFixed(2),
		TotalPrice:   q.TotalPrice.StringFixed(2),
		Discount:     q.Discount.StringFixed(2),
		FinalPrice:   q.FinalPrice.StringFixed(2),
		Deadline:     q.DeadlineText,
		IsUrgent:     deadline.IsUrgent(req.Deadline, h.now()),
	})
}
