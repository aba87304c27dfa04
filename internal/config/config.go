// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	JWTSecret string `env:"AUTH_JWT_SECRET"`

	PayPalBaseURL      string `env:"PAYPAL_BASE_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	PayPalClientID     string `env:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
	PayPalWebhookID    string `env:"PAYPAL_WEBHOOK_ID"`
	PayPalCurrency     string `env:"PAYPAL_CURRENCY"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SessionTimeout       time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"60s"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"essaymarket.events"`

	TracingEnabled bool `env:"TRACING_ENABLED" envDefault:"false"`
}

// Parse считывает конфигурацию из .env, переменных окружения и флагов командной строки.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SessionSweepInterval <= 0 {
		return nil, fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive, got %s", cfg.SessionSweepInterval)
	}

	return cfg, nil
}

// PayPalConfigured сообщает, заданы ли учётные данные PayPal.
func (c *Config) PayPalConfigured() bool {
	return c.PayPalClientID != "" && c.PayPalClientSecret != ""
}
