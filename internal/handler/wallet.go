package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/essaymarket/internal/model"
)

type walletResponse struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Balance  string    `json:"balance"`
	Currency string    `json:"currency"`
}

type transactionResponse struct {
	ID          uuid.UUID               `json:"id"`
	WalletID    uuid.UUID               `json:"wallet_id"`
	Amount      string                  `json:"amount"`
	Type        model.TransactionType   `json:"type"`
	Status      model.TransactionStatus `json:"status"`
	PayPalRef   string                  `json:"paypal_ref,omitempty"`
	Description string                  `json:"description,omitempty"`
	OrderID     *uuid.UUID              `json:"order_id,omitempty"`
	CreatedAt   string                  `json:"created_at"`
}

// GetWallet возвращает кошелёк текущего пользователя.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.Wallet(r.Context(), actor)
	if err != nil {
		h.fail(w, "get wallet", err)
		return
	}

	writeJSON(w, http.StatusOK, walletResponse{
		ID:       wallet.ID,
		UserID:   wallet.UserID,
		Balance:  wallet.Balance.StringFixed(2),
		Currency: wallet.Currency,
	})
}

// GetTransactions возвращает журнал операций кошелька текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	txs, err := h.service.Transactions(r.Context(), actor)
	if err != nil {
		h.fail(w, "get transactions", err)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, transactionResponse{
			ID:          t.ID,
			WalletID:    t.WalletID,
			Amount:      t.Amount.StringFixed(2),
			Type:        t.Type,
			Status:      t.Status,
			PayPalRef:   t.GatewayRef,
			Description: t.Description,
			OrderID:     t.OrderID,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
