// Package notify публикует доменные события платформы в шину сообщений.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Типы событий.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventWalletTransaction  = "wallet.transaction"
	EventSessionExpired     = "session.expired"
)

// Event - уведомление, которое интерфейс показывает пользователю.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId,omitempty"`
	OrderID    string    `json:"orderId,omitempty"`
	Status     string    `json:"status,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher отправляет события.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop отбрасывает события. Используется, когда шина не настроена.
type Noop struct{}

// Publish ничего не делает.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close ничего не делает.
func (Noop) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher пишет события в топик Kafka, ключ сообщения - идентификатор пользователя.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher создаёт издателя для указанных брокеров и топика.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		ErrorLogger:            kafkaLogger{logger: logger},
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Publish сериализует событие в JSON и отправляет его.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event to %s: %w", p.topic, err)
	}

	return nil
}

// Close закрывает соединения с брокерами.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type kafkaLogger struct {
	logger *zap.Logger
}

func (k kafkaLogger) Printf(msg string, args ...interface{}) {
	if k.logger != nil {
		k.logger.Sugar().Errorf(msg, args...)
	}
}

// Publish отправляет событие и пишет в журнал при ошибке.
// Уведомления не должны ломать запрос, поэтому ошибка не возвращается.
func Publish(ctx context.Context, p Publisher, logger *zap.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil && logger != nil {
		logger.Warn("publish event failed", zap.String("type", e.Type), zap.Error(err))
	}
}
