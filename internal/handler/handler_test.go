package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/essaymarket/internal/lifecycle"
	"github.com/mmeshcher/essaymarket/internal/metrics"
	"github.com/mmeshcher/essaymarket/internal/middleware"
	"github.com/mmeshcher/essaymarket/internal/model"
	"github.com/mmeshcher/essaymarket/internal/paypal"
	"github.com/mmeshcher/essaymarket/internal/pricing"
	"github.com/mmeshcher/essaymarket/internal/repository"
	"github.com/mmeshcher/essaymarket/internal/service"
	"github.com/mmeshcher/essaymarket/internal/session"
	"github.com/mmeshcher/essaymarket/internal/settings"
	"github.com/mmeshcher/essaymarket/internal/validation"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type stubService struct {
	profile    *model.Profile
	profileErr error

	order    *model.Order
	orderErr error
	orders   []model.Order

	lastInput  service.OrderInput
	lastStatus model.OrderStatus

	wallet *model.Wallet
	txs    []model.WalletTransaction

	deposit    *service.DepositResult
	capture    *service.CaptureResult
	payout     *service.PayoutResult
	payoutErr  error
	check      *service.PayoutStatus
	webhookErr error
	webhooks   int

	updatedKey   string
	updatedValue json.RawMessage
	updateErr    error
}

func (s *stubService) Profile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return s.profile, nil
}

func (s *stubService) Settings(ctx context.Context) settings.Settings { return settings.Defaults() }

func (s *stubService) UpdateSetting(ctx context.Context, actor *model.Profile, key string, value json.RawMessage) error {
	s.updatedKey, s.updatedValue = key, value
	return s.updateErr
}

func (s *stubService) Quote(ctx context.Context, pages int, due time.Time) pricing.Quote {
	return pricing.Calculate(pages, due, settings.Defaults().Rates(), testNow)
}

func (s *stubService) CreateOrder(ctx context.Context, actor *model.Profile, in service.OrderInput) (*model.Order, error) {
	s.lastInput = in
	return s.order, s.orderErr
}

func (s *stubService) ListOrders(ctx context.Context, actor *model.Profile) ([]model.Order, error) {
	return s.orders, s.orderErr
}

func (s *stubService) GetOrder(ctx context.Context, actor *model.Profile, id uuid.UUID) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) PayOrder(ctx context.Context, actor *model.Profile, id uuid.UUID) (*model.Order, *model.WalletTransaction, error) {
	if s.orderErr != nil {
		return nil, nil, s.orderErr
	}
	return s.order, &model.WalletTransaction{ID: uuid.New()}, nil
}

func (s *stubService) ClaimOrder(ctx context.Context, actor *model.Profile, id uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	s.lastStatus = status
	return s.order, s.orderErr
}

func (s *stubService) ReleaseOrder(ctx context.Context, actor *model.Profile, id uuid.UUID) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) ChangeStatus(ctx context.Context, actor *model.Profile, id uuid.UUID, to model.OrderStatus) (*model.Order, error) {
	s.lastStatus = to
	return s.order, s.orderErr
}

func (s *stubService) AdminUpdateOrder(ctx context.Context, actor *model.Profile, id uuid.UUID, upd service.AdminOrderUpdate) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) Wallet(ctx context.Context, actor *model.Profile) (*model.Wallet, error) {
	return s.wallet, nil
}

func (s *stubService) Transactions(ctx context.Context, actor *model.Profile) ([]model.WalletTransaction, error) {
	return s.txs, nil
}

func (s *stubService) CreateDeposit(ctx context.Context, actor *model.Profile, amount decimal.Decimal, walletID uuid.UUID) (*service.DepositResult, error) {
	return s.deposit, nil
}

func (s *stubService) CaptureDeposit(ctx context.Context, actor *model.Profile, paypalOrderID string, walletID uuid.UUID) (*service.CaptureResult, error) {
	return s.capture, nil
}

func (s *stubService) RequestPayout(ctx context.Context, actor *model.Profile, amount decimal.Decimal, walletID uuid.UUID, email string) (*service.PayoutResult, error) {
	return s.payout, s.payoutErr
}

func (s *stubService) CheckPayout(ctx context.Context, actor *model.Profile, transactionID uuid.UUID) (*service.PayoutStatus, error) {
	return s.check, nil
}

func (s *stubService) HandleWebhook(ctx context.Context, headers paypal.WebhookHeaders, body json.RawMessage) error {
	s.webhooks++
	return s.webhookErr
}

type testServer struct {
	router  http.Handler
	auth    *middleware.AuthMiddleware
	tracker *session.Tracker
	clock   *time.Time
	userID  uuid.UUID
}

func newTestServer(t *testing.T, svc *stubService) *testServer {
	t.Helper()

	now := testNow
	ts := &testServer{
		auth:   middleware.NewAuthMiddleware("test-secret"),
		clock:  &now,
		userID: uuid.New(),
	}
	if svc.profile == nil {
		svc.profile = &model.Profile{ID: ts.userID, Role: model.RoleClient}
	}
	ts.tracker = session.NewTracker(session.NewMemoryStore(), 30*time.Minute, zap.NewNop(),
		session.WithClock(func() time.Time { return *ts.clock }))

	h := NewHandler(svc, zap.NewNop(), ts.auth, ts.tracker, metrics.New())
	h.now = func() time.Time { return *ts.clock }
	ts.router = h.SetupRouter()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	token, err := ts.auth.IssueToken(ts.userID, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func sampleOrder(due time.Time) *model.Order {
	return &model.Order{
		ID:             uuid.New(),
		AssignmentCode: "ORD-1A2B3C4D",
		PaperType:      "Essay",
		Subject:        "History",
		Pages:          3,
		Words:          825,
		Deadline:       due,
		FinalPrice:     decimal.RequireFromString("61.1617"),
		Status:         model.OrderStatusAvailable,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: pages", validation.ErrInvalid), http.StatusBadRequest},
		{service.ErrForbidden, http.StatusForbidden},
		{session.ErrExpired, http.StatusUnauthorized},
		{repository.ErrOrderNotFound, http.StatusNotFound},
		{repository.ErrOrderAlreadyClaimed, http.StatusConflict},
		{service.ErrNotPayable, http.StatusConflict},
		{repository.ErrInsufficientBalance, http.StatusPaymentRequired},
		{fmt.Errorf("%w: writer", lifecycle.ErrTransitionNotAllowed), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: %w", service.ErrUpstream, &paypal.APIError{StatusCode: 500}), http.StatusBadGateway},
		{service.ErrMaintenance, http.StatusServiceUnavailable},
		{paypal.ErrNotConfigured, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestUnknownProfileForbidden(t *testing.T) {
	ts := newTestServer(t, &stubService{profileErr: service.ErrForbidden})

	rec := ts.do(t, http.MethodGet, "/api/orders", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateOrder(t *testing.T) {
	due := testNow.Add(20 * time.Hour)
	svc := &stubService{order: sampleOrder(due)}
	svc.order.Status = model.OrderStatusAwaitingPayment
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPost, "/api/orders", map[string]any{
		"paperType":    "Essay",
		"subject":      "History",
		"instructions": "Write it",
		"pages":        3,
		"deadline":     due.Format(time.RFC3339),
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 3, svc.lastInput.Pages)
	assert.True(t, svc.lastInput.Deadline.Equal(due))

	body := decodeBody(t, rec)
	assert.Equal(t, "ORD-1A2B3C4D", body["assignment_code"])
	assert.Equal(t, "61.16", body["final_price"])
	assert.Equal(t, "awaiting_payment", body["status"])
	assert.Equal(t, "20h 0m remaining", body["timeRemaining"])
	assert.Equal(t, true, body["isUrgent"])
	assert.Equal(t, false, body["isPastDeadline"])
	assert.Equal(t, []any{"cancelled"}, body["nextStatuses"])
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: fmt.Errorf("%w: pages must be positive", validation.ErrInvalid), want: http.StatusBadRequest},
		{name: "maintenance", err: service.ErrMaintenance, want: http.StatusServiceUnavailable},
		{name: "internal", err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubService{orderErr: tt.err})

			rec := ts.do(t, http.MethodPost, "/api/orders", map[string]any{"pages": 1}, nil)
			assert.Equal(t, tt.want, rec.Code)

			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "Internal Server Error", body["error"], "internal details must not leak")
			}
		})
	}

	ts := newTestServer(t, &stubService{})
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader([]byte("{")))
	token, _ := ts.auth.IssueToken(ts.userID, time.Hour)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPastDeadlineOrder(t *testing.T) {
	svc := &stubService{orders: []model.Order{*sampleOrder(testNow.Add(-2 * time.Hour))}}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodGet, "/api/orders", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, true, list[0]["isPastDeadline"])
	assert.Equal(t, false, list[0]["isUrgent"])
}

func TestClaimOrder(t *testing.T) {
	svc := &stubService{order: sampleOrder(testNow.Add(72 * time.Hour)), orderErr: repository.ErrOrderAlreadyClaimed}
	ts := newTestServer(t, svc)
	path := "/api/orders/" + svc.order.ID.String() + "/claim"

	rec := ts.do(t, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "order already claimed", decodeBody(t, rec)["error"])

	svc.orderErr = nil
	rec = ts.do(t, http.MethodPost, path, map[string]string{"status": "in_progress"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OrderStatusInProgress, svc.lastStatus)

	rec = ts.do(t, http.MethodPost, "/api/orders/not-a-uuid/claim", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangeStatus(t *testing.T) {
	svc := &stubService{order: sampleOrder(testNow.Add(72 * time.Hour))}
	ts := newTestServer(t, svc)
	path := "/api/orders/" + svc.order.ID.String() + "/status"

	rec := ts.do(t, http.MethodPatch, path, map[string]string{"status": "lost"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.orderErr = fmt.Errorf("%w: client cannot move order", lifecycle.ErrTransitionNotAllowed)
	rec = ts.do(t, http.MethodPatch, path, map[string]string{"status": "completed"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, model.OrderStatusCompleted, svc.lastStatus)
}

func TestUpdateSetting(t *testing.T) {
	svc := &stubService{}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPut, "/api/settings/basePricePerPage", map[string]any{"value": 20}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "basePricePerPage", svc.updatedKey)
	assert.JSONEq(t, "20", string(svc.updatedValue))

	svc.updateErr = service.ErrForbidden
	rec = ts.do(t, http.MethodPut, "/api/settings/maintenanceMode", map[string]any{"value": true}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetSettings(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	rec := ts.do(t, http.MethodGet, "/api/settings", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, 15.99, body["basePricePerPage"])
	assert.Equal(t, "EssayMarket", body["platformName"])
}

func TestQuote(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	rec := ts.do(t, http.MethodPost, "/api/pricing/quote", map[string]any{
		"pages":    3,
		"deadline": testNow.Add(20 * time.Hour).Format(time.RFC3339),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "61.16", body["finalPrice"])
	assert.Equal(t, "10.79", body["discount"])
	assert.Equal(t, true, body["isUrgent"])

	rec = ts.do(t, http.MethodPost, "/api/pricing/quote", map[string]any{"pages": 3}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, &stubService{orders: []model.Order{}})

	rec := ts.do(t, http.MethodPost, "/api/session", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	sessionID := decodeBody(t, rec)["sessionId"].(string)
	assert.Equal(t, sessionID, rec.Header().Get(middleware.SessionHeader))
	header := map[string]string{middleware.SessionHeader: sessionID}

	*ts.clock = ts.clock.Add(20 * time.Minute)
	rec = ts.do(t, http.MethodPost, "/api/session/activity", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)

	*ts.clock = ts.clock.Add(20 * time.Minute)
	rec = ts.do(t, http.MethodGet, "/api/orders", nil, header)
	assert.Equal(t, http.StatusOK, rec.Code, "activity keeps the session alive")

	*ts.clock = ts.clock.Add(31 * time.Minute)
	rec = ts.do(t, http.MethodGet, "/api/orders", nil, header)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session expired", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodDelete, "/api/session", nil, header)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndSession(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	rec := ts.do(t, http.MethodPost, "/api/session", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	header := map[string]string{middleware.SessionHeader: decodeBody(t, rec)["sessionId"].(string)}

	rec = ts.do(t, http.MethodDelete, "/api/session", nil, header)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/session/activity", nil, header)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPayPalEndpoints(t *testing.T) {
	walletID := uuid.New()
	txID := uuid.New()
	svc := &stubService{
		deposit: &service.DepositResult{OrderID: "PP-1", Order: &paypal.Order{ID: "PP-1", Status: "CREATED"}},
		capture: &service.CaptureResult{Status: "COMPLETED", AlreadyCompleted: true},
		payout:  &service.PayoutResult{BatchID: "BATCH-1", TransactionID: txID},
		check: &service.PayoutStatus{
			Status:       model.TransactionCompleted,
			PayPalStatus: "SUCCESS",
			Details:      &paypal.PayoutBatch{BatchHeader: paypal.BatchHeader{PayoutBatchID: "BATCH-1"}},
		},
	}
	ts := newTestServer(t, svc)

	rec := ts.do(t, http.MethodPost, "/api/paypal/create-order", map[string]any{"amount": 25, "walletId": walletID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "PP-1", body["orderId"])

	rec = ts.do(t, http.MethodPost, "/api/paypal/capture-order", map[string]any{"orderId": "PP-1", "walletId": walletID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, "deposit already completed", body["message"])

	rec = ts.do(t, http.MethodPost, "/api/paypal/payout", map[string]any{"amount": "40.00", "walletId": walletID, "paypalEmail": "w@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "BATCH-1", body["batch_id"])
	assert.Equal(t, txID.String(), body["transactionId"])

	rec = ts.do(t, http.MethodPost, "/api/paypal/check-payout-status", map[string]any{"transactionId": txID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "SUCCESS", body["paypalStatus"])
	assert.NotNil(t, body["statusDetails"])

	svc.payoutErr = repository.ErrInsufficientBalance
	rec = ts.do(t, http.MethodPost, "/api/paypal/payout", map[string]any{"amount": "40.00", "walletId": walletID, "paypalEmail": "w@example.com"}, nil)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/paypal/payout", map[string]any{"amount": "40.00", "walletId": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAlwaysOK(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "handled", body: `{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`, want: 1},
		{name: "invalid signature", body: `{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`, err: service.ErrInvalidSignature, want: 1},
		{name: "processing error", body: `{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`, err: errors.New("db down"), want: 1},
		{name: "malformed body", body: `{`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{webhookErr: tt.err}
			ts := newTestServer(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/paypal/webhook", bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			ts.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, svc.webhooks)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `essaymarket_http_requests_total{code="200",method="GET",route="/health"} 1`)

	// Prometheus всегда присылает Accept-Encoding: gzip; тело должно распаковываться один раз.
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	defer gr.Close()
	body, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("# HELP ")), "unexpected exposition: %q", body[:min(len(body), 16)])
	assert.Contains(t, string(body), `essaymarket_http_requests_total{code="200",method="GET",route="/health"} 1`)
}
