package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/essaymarket/internal/metrics"
)

type respData struct {
	statusCode int
	size       int
}

type loggerResponseWriter struct {
	http.ResponseWriter
	respData *respData
}

func (r *loggerResponseWriter) WriteHeader(statusCode int) {
	r.ResponseWriter.WriteHeader(statusCode)
	r.respData.statusCode = statusCode
}

func (r *loggerResponseWriter) Write(b []byte) (int, error) {
	if r.respData.statusCode == 0 {
		r.respData.statusCode = http.StatusOK
	}
	size, err := r.ResponseWriter.Write(b)
	r.respData.size += size
	return size, err
}

// Logger пишет в журнал каждый запрос и учитывает его в метриках.
// Маршрут берётся из шаблона chi, чтобы идентификаторы в пути не раздували метки.
func Logger(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggerResponseWriter{
				ResponseWriter: w,
				respData:       &respData{},
			}
			next.ServeHTTP(lw, r)

			status := lw.respData.statusCode
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveHTTP(r.Method, route, status, duration)

			logger.Info("request",
				zap.String("uri", r.RequestURI),
				zap.String("method", r.Method),
				zap.Int("status", status),
				zap.Int("size", lw.respData.size),
				zap.Duration("duration", duration),
			)
		})
	}
}
