package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/essaymarket/internal/paypal"
	"github.com/mmeshcher/essaymarket/internal/service"
)

const maxWebhookBody = 1 << 20

type createPayPalOrderRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	WalletID uuid.UUID       `json:"walletId"`
}

type createPayPalOrderResponse struct {
	Success bool          `json:"success"`
	OrderID string        `json:"orderId"`
	Order   *paypal.Order `json:"order"`
}

// CreatePayPalOrder создаёт заказ PayPal на пополнение кошелька.
func (h *Handler) CreatePayPalOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createPayPalOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.CreateDeposit(r.Context(), actor, req.Amount, req.WalletID)
	if err != nil {
		h.fail(w, "create paypal order", err)
		return
	}

	writeJSON(w, http.StatusOK, createPayPalOrderResponse{Success: true, OrderID: res.OrderID, Order: res.Order})
}

type capturePayPalOrderRequest struct {
	OrderID  string    `json:"orderId"`
	WalletID uuid.UUID `json:"walletId"`
}

type capturePayPalOrderResponse struct {
	Success       bool          `json:"success"`
	Status        string        `json:"status"`
	CaptureResult *paypal.Order `json:"captureResult,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// CapturePayPalOrder подтверждает оплату заказа PayPal и зачисляет пополнение.
func (h *Handler) CapturePayPalOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req capturePayPalOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.CaptureDeposit(r.Context(), actor, req.OrderID, req.WalletID)
	if err != nil {
		h.fail(w, "capture paypal order", err)
		return
	}

	resp := capturePayPalOrderResponse{Success: true, Status: res.Status, CaptureResult: res.Capture}
	if res.AlreadyCompleted {
		resp.Message = "deposit already completed"
	}
	writeJSON(w, http.StatusOK, resp)
}

type payoutRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	WalletID    uuid.UUID       `json:"walletId"`
	PayPalEmail string          `json:"paypalEmail"`
}

type payoutResponse struct {
	Success       bool      `json:"success"`
	BatchID       string    `json:"batch_id"`
	TransactionID uuid.UUID `json:"transactionId"`
}

// Payout выводит средства кошелька на PayPal.
func (h *Handler) Payout(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req payoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.RequestPayout(r.Context(), actor, req.Amount, req.WalletID, req.PayPalEmail)
	if err != nil {
		h.fail(w, "paypal payout", err)
		return
	}

	writeJSON(w, http.StatusOK, payoutResponse{Success: true, BatchID: res.BatchID, TransactionID: res.TransactionID})
}

type checkPayoutRequest struct {
	TransactionID uuid.UUID `json:"transactionId"`
}

type checkPayoutResponse struct {
	Success       bool                `json:"success"`
	Status        string              `json:"status"`
	PayPalStatus  string              `json:"paypalStatus"`
	StatusDetails *paypal.PayoutBatch `json:"statusDetails"`
}

// CheckPayoutStatus сверяет состояние выплаты с PayPal.
func (h *Handler) CheckPayoutStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req checkPayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.CheckPayout(r.Context(), actor, req.TransactionID)
	if err != nil {
		h.fail(w, "check payout status", err)
		return
	}

	writeJSON(w, http.StatusOK, checkPayoutResponse{
		Success:       true,
		Status:        string(res.Status),
		PayPalStatus:  res.PayPalStatus,
		StatusDetails: res.Details,
	})
}

// Webhook принимает события PayPal. Ответ всегда 200, чтобы PayPal не повторял доставку;
// ошибки обработки только пишутся в журнал.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil || !json.Valid(body) {
		h.logger.Warn("webhook body rejected", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.service.HandleWebhook(r.Context(), paypal.WebhookHeadersFrom(r.Header), body); err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			h.logger.Warn("webhook signature rejected", zap.String("transmission_id", r.Header.Get("PAYPAL-TRANSMISSION-ID")))
		} else {
			h.logger.Error("webhook processing failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
