// Package metrics содержит счётчики Prometheus сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "essaymarket"

// Metrics - набор метрик сервиса, зарегистрированных в собственном реестре.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	orderTransitions *prometheus.CounterVec
	walletOperations *prometheus.CounterVec
	paypalCalls      *prometheus.CounterVec
	sessionsExpired  prometheus.Counter
	sessionsStarted  prometheus.Counter
}

// New создаёт и регистрирует метрики.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Order status changes by target status and actor role.",
		}, []string{"status", "role"}),
		walletOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_transactions_total",
			Help:      "Wallet ledger entries by type and status.",
		}, []string{"type", "status"}),
		paypalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paypal_requests_total",
			Help:      "PayPal API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions terminated for inactivity.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions started.",
		}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.orderTransitions,
		m.walletOperations,
		m.paypalCalls,
		m.sessionsExpired,
		m.sessionsStarted,
	)

	return m
}

// Handler отдаёт метрики в формате Prometheus. Сжатие ответа выполняет GzipMiddleware роутера.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:           m.registry,
		DisableCompression: true,
	})
}

// ObserveHTTP учитывает обработанный HTTP-запрос.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// OrderTransition учитывает смену статуса заказа.
func (m *Metrics) OrderTransition(status, role string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(status, role).Inc()
}

// WalletTransaction учитывает запись журнала кошелька.
func (m *Metrics) WalletTransaction(typ, status string) {
	if m == nil {
		return
	}
	m.walletOperations.WithLabelValues(typ, status).Inc()
}

// PayPalCall учитывает обращение к PayPal.
func (m *Metrics) PayPalCall(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.paypalCalls.WithLabelValues(operation, outcome).Inc()
}

// SessionStarted учитывает новую сессию.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

// SessionExpired учитывает сессию, завершённую по неактивности.
func (m *Metrics) SessionExpired() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
}
