// Package main запускает HTTP-сервер биржи академических работ.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/essaymarket/internal/config"
	"github.com/mmeshcher/essaymarket/internal/handler"
	"github.com/mmeshcher/essaymarket/internal/metrics"
	"github.com/mmeshcher/essaymarket/internal/middleware"
	"github.com/mmeshcher/essaymarket/internal/model"
	"github.com/mmeshcher/essaymarket/internal/notify"
	"github.com/mmeshcher/essaymarket/internal/observability"
	"github.com/mmeshcher/essaymarket/internal/paypal"
	"github.com/mmeshcher/essaymarket/internal/repository"
	"github.com/mmeshcher/essaymarket/internal/service"
	"github.com/mmeshcher/essaymarket/internal/session"
	"github.com/mmeshcher/essaymarket/internal/settings"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.TracingEnabled, os.Stdout)
	if err != nil {
		sugar.Fatalw("tracing initialization error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	m := metrics.New()

	var publisher notify.Publisher = notify.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		sugar.Infow("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer publisher.Close()

	var store session.Store = session.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			sugar.Fatalw("redis connection error", "addr", cfg.RedisAddr, "error", err.Error())
		}
		store = session.NewRedisStore(client)
	} else {
		sugar.Warn("REDIS_ADDR is not set, sessions are kept in memory")
	}

	tracker := session.NewTracker(store, cfg.SessionTimeout, logger,
		session.WithExpireHook(func(ctx context.Context, s model.Session) {
			m.SessionExpired()
			notify.Publish(ctx, publisher, logger, notify.Event{
				Type:       notify.EventSessionExpired,
				UserID:     s.UserID.String(),
				Message:    "Session expired due to inactivity",
				OccurredAt: time.Now().UTC(),
			})
		}),
	)

	if !cfg.PayPalConfigured() {
		sugar.Warn("PayPal credentials are not set, payment endpoints will answer 503")
	}
	gateway := paypal.NewClient(paypal.Config{
		BaseURL:      cfg.PayPalBaseURL,
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		WebhookID:    cfg.PayPalWebhookID,
	})

	svc := service.NewService(service.Deps{
		Repo:      repo,
		Settings:  settings.NewStore(repo.Settings(), logger),
		Gateway:   gateway,
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger,
		Currency:  cfg.PayPalCurrency,
	})

	if cfg.JWTSecret == "" {
		sugar.Warn("AUTH_JWT_SECRET is not set, using a random key")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, tracker, m)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Обход истёкших сессий
	g.Go(func() error {
		return tracker.Run(ctx, cfg.SessionSweepInterval)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting essaymarket server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Warnw("tracing shutdown error", "error", err.Error())
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
