// Package paypal предоставляет клиент REST API PayPal: заказы Checkout, выплаты Payouts
// и проверку подписи вебхуков.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mmeshcher/essaymarket/internal/paypal")

// ErrNotConfigured возвращается, если у клиента нет учётных данных.
var ErrNotConfigured = errors.New("paypal client not configured")

// APIError описывает ответ PayPal с кодом ошибки.
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
	// Description заполняется эндпоинтом OAuth.
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Description
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Name != "" {
		return fmt.Sprintf("paypal: %s: %s (status %d)", e.Name, msg, e.StatusCode)
	}
	return fmt.Sprintf("paypal: %s (status %d)", msg, e.StatusCode)
}

// Config содержит адрес API и учётные данные приложения.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
}

// Client инкапсулирует HTTP-взаимодействие с PayPal.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	now         func() time.Time
}

// NewClient создаёт клиент PayPal.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

// Money - сумма в формате PayPal.
type Money struct {
	CurrencyCode string `json:"currency_code,omitempty"`
	Currency     string `json:"currency,omitempty"`
	Value        string `json:"value"`
}

// Link - ссылка HATEOAS из ответа PayPal.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Capture - списание по заказу Checkout.
type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

// PurchaseUnit - позиция заказа Checkout.
type PurchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      *Money `json:"amount,omitempty"`
	Payments    *struct {
		Captures []Capture `json:"captures"`
	} `json:"payments,omitempty"`
}

// Order - заказ Checkout v2.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Intent        string         `json:"intent,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

// Captures возвращает все списания заказа.
func (o *Order) Captures() []Capture {
	var res []Capture
	for _, pu := range o.PurchaseUnits {
		if pu.Payments != nil {
			res = append(res, pu.Payments.Captures...)
		}
	}
	return res
}

// CreateOrderRequest - параметры создания заказа на пополнение.
type CreateOrderRequest struct {
	Amount      string
	Currency    string
	CustomID    string
	Description string
}

// PayoutRequest - параметры выплаты на адрес PayPal.
type PayoutRequest struct {
	SenderBatchID string
	SenderItemID  string
	Receiver      string
	Amount        string
	Currency      string
	Note          string
}

// BatchHeader - заголовок пакета выплат.
type BatchHeader struct {
	PayoutBatchID string `json:"payout_batch_id"`
	BatchStatus   string `json:"batch_status"`
}

// PayoutItemError - причина неуспеха выплаты.
type PayoutItemError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// PayoutItem - элемент пакета выплат.
type PayoutItem struct {
	PayoutItemID      string           `json:"payout_item_id"`
	TransactionID     string           `json:"transaction_id,omitempty"`
	TransactionStatus string           `json:"transaction_status"`
	PayoutBatchID     string           `json:"payout_batch_id,omitempty"`
	Errors            *PayoutItemError `json:"errors,omitempty"`
}

// PayoutBatch - ответ API Payouts.
type PayoutBatch struct {
	BatchHeader BatchHeader  `json:"batch_header"`
	Items       []PayoutItem `json:"items,omitempty"`
	Links       []Link       `json:"links,omitempty"`
}

// Status возвращает статус выплаты: статус первого элемента, а при его отсутствии статус пакета.
func (b *PayoutBatch) Status() string {
	for _, it := range b.Items {
		if it.TransactionStatus != "" {
			return it.TransactionStatus
		}
	}
	return b.BatchHeader.BatchStatus
}

// WebhookHeaders - заголовки подписи, которые PayPal присылает вместе с событием.
type WebhookHeaders struct {
	AuthAlgo         string `json:"auth_algo"`
	CertURL          string `json:"cert_url"`
	TransmissionID   string `json:"transmission_id"`
	TransmissionSig  string `json:"transmission_sig"`
	TransmissionTime string `json:"transmission_time"`
}

// WebhookHeadersFrom извлекает заголовки подписи из HTTP-запроса.
func WebhookHeadersFrom(h http.Header) WebhookHeaders {
	return WebhookHeaders{
		AuthAlgo:         h.Get("Paypal-Auth-Algo"),
		CertURL:          h.Get("Paypal-Cert-Url"),
		TransmissionID:   h.Get("Paypal-Transmission-Id"),
		TransmissionSig:  h.Get("Paypal-Transmission-Sig"),
		TransmissionTime: h.Get("Paypal-Transmission-Time"),
	}
}

// Complete сообщает, что присутствуют все заголовки подписи.
func (h WebhookHeaders) Complete() bool {
	return h.AuthAlgo != "" && h.CertURL != "" && h.TransmissionID != "" &&
		h.TransmissionSig != "" && h.TransmissionTime != ""
}

// Token возвращает токен доступа, запрашивая новый по client credentials, когда кэшированный истёк.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c == nil || c.baseURL == "" || c.clientID == "" || c.clientSecret == "" {
		return "", ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	ctx, span := tracer.Start(ctx, "paypal.Token")
	defer span.End()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := c.send(req, &out); err != nil {
		recordError(span, err)
		return "", fmt.Errorf("get access token: %w", err)
	}
	if out.AccessToken == "" {
		err := errors.New("empty access token")
		recordError(span, err)
		return "", err
	}

	// Токен обновляется за минуту до истечения.
	ttl := time.Duration(out.ExpiresIn)*time.Second - time.Minute
	if ttl < 0 {
		ttl = 0
	}
	c.accessToken = out.AccessToken
	c.expiresAt = c.now().Add(ttl)

	return c.accessToken, nil
}

// CreateOrder создаёт заказ Checkout с намерением CAPTURE.
func (c *Client) CreateOrder(ctx context.Context, r CreateOrderRequest) (*Order, error) {
	ctx, span := tracer.Start(ctx, "paypal.CreateOrder", trace.WithAttributes(
		attribute.String("paypal.amount", r.Amount),
		attribute.String("paypal.currency", r.Currency),
	))
	defer span.End()

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []PurchaseUnit{{
			CustomID:    r.CustomID,
			Description: r.Description,
			Amount:      &Money{CurrencyCode: r.Currency, Value: r.Amount},
		}},
	}

	var out Order
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", body, &out); err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("paypal.order_id", out.ID))

	return &out, nil
}

// CaptureOrder списывает средства по одобренному покупателем заказу.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "paypal.CaptureOrder", trace.WithAttributes(
		attribute.String("paypal.order_id", orderID),
	))
	defer span.End()

	var out Order
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.call(ctx, http.MethodPost, path, map[string]any{}, &out); err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("paypal.status", out.Status))

	return &out, nil
}

// CreatePayout отправляет пакет из одной выплаты на адрес электронной почты.
func (c *Client) CreatePayout(ctx context.Context, r PayoutRequest) (*PayoutBatch, error) {
	ctx, span := tracer.Start(ctx, "paypal.CreatePayout", trace.WithAttributes(
		attribute.String("paypal.sender_batch_id", r.SenderBatchID),
		attribute.String("paypal.amount", r.Amount),
	))
	defer span.End()

	body := map[string]any{
		"sender_batch_header": map[string]string{
			"sender_batch_id": r.SenderBatchID,
			"email_subject":   "You have a payout!",
		},
		"items": []map[string]any{{
			"recipient_type": "EMAIL",
			"amount":         Money{Currency: r.Currency, Value: r.Amount},
			"receiver":       r.Receiver,
			"note":           r.Note,
			"sender_item_id": r.SenderItemID,
		}},
	}

	var out PayoutBatch
	if err := c.call(ctx, http.MethodPost, "/v1/payments/payouts", body, &out); err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("paypal.payout_batch_id", out.BatchHeader.PayoutBatchID))

	return &out, nil
}

// GetPayoutBatch возвращает текущее состояние пакета выплат.
func (c *Client) GetPayoutBatch(ctx context.Context, batchID string) (*PayoutBatch, error) {
	ctx, span := tracer.Start(ctx, "paypal.GetPayoutBatch", trace.WithAttributes(
		attribute.String("paypal.payout_batch_id", batchID),
	))
	defer span.End()

	var out PayoutBatch
	if err := c.call(ctx, http.MethodGet, "/v1/payments/payouts/"+url.PathEscape(batchID), nil, &out); err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("paypal.status", out.Status()))

	return &out, nil
}

// VerifyWebhookSignature проверяет подпись события через API PayPal.
func (c *Client) VerifyWebhookSignature(ctx context.Context, h WebhookHeaders, event json.RawMessage) (bool, error) {
	ctx, span := tracer.Start(ctx, "paypal.VerifyWebhookSignature")
	defer span.End()

	if c == nil || c.webhookID == "" {
		return false, ErrNotConfigured
	}
	if !h.Complete() {
		return false, nil
	}

	body := struct {
		WebhookHeaders
		WebhookID    string          `json:"webhook_id"`
		WebhookEvent json.RawMessage `json:"webhook_event"`
	}{h, c.webhookID, event}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &out); err != nil {
		recordError(span, err)
		return false, err
	}
	span.SetAttributes(attribute.String("paypal.verification_status", out.VerificationStatus))

	return out.VerificationStatus == "SUCCESS", nil
}

// call выполняет авторизованный JSON-запрос к API.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
