package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/essaymarket/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger, h.metrics))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Вебхук подписывает PayPal, а не пользователь.
		r.Post("/paypal/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/session", h.StartSession)
			r.Delete("/session", h.EndSession)
			r.Post("/session/activity", h.Activity)

			// Проверка неактивности применяется только к запросам с X-Session-ID;
			// без заголовка запрос ограничен лишь сроком действия токена.
			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.Session(h.sessions, h.logger))

				r.Post("/pricing/quote", h.Quote)

				r.Get("/settings", h.GetSettings)
				r.Put("/settings/{key}", h.UpdateSetting)

				r.Route("/orders", func(r chi.Router) {
					r.Post("/", h.CreateOrder)
					r.Get("/", h.ListOrders)
					r.Get("/{id}", h.GetOrder)
					r.Patch("/{id}", h.AdminUpdateOrder)
					r.Post("/{id}/pay", h.PayOrder)
					r.Post("/{id}/claim", h.ClaimOrder)
					r.Post("/{id}/release", h.ReleaseOrder)
					r.Patch("/{id}/status", h.ChangeStatus)
				})

				r.Get("/wallet", h.GetWallet)
				r.Get("/wallet/transactions", h.GetTransactions)

				r.Post("/paypal/create-order", h.CreatePayPalOrder)
				r.Post("/paypal/capture-order", h.CapturePayPalOrder)
				r.Post("/paypal/payout", h.Payout)
				r.Post("/paypal/check-payout-status", h.CheckPayoutStatus)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
