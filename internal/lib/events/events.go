package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/linemk/storefront/internal/domain/models"
)

const (
	TypeOrderCreated        = "order.created"
	TypeOrderPaymentUpdated = "order.payment_updated"
	TypeOrderStatusChanged  = "order.status_changed"
)

// Event сообщение об изменении заказа, ключ партиционирования - id заказа
type Event struct {
	ID            string                `json:"id"`
	Type          string                `json:"type"`
	OrderID       int64                 `json:"orderId"`
	Status        models.OrderStatus    `json:"status"`
	PaymentStatus *models.PaymentStatus `json:"paymentStatus,omitempty"`
	TotalKZT      int64                 `json:"totalKZT"`
	OccurredAt    time.Time             `json:"occurredAt"`
}

func NewOrderEvent(eventType string, order *models.Order) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TotalKZT:      order.TotalKZT,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher отправляет события после коммита транзакции
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// ParseBrokers разбирает список брокеров через запятую
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// publishTimeout ограничивает ожидание брокера внутри запроса, включая ответ шлюзу на вебхук
const publishTimeout = 2 * time.Second

// NewKafkaPublisher пишет каждое событие отдельным батчем: запрос не ждёт BatchTimeout
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchSize:    1,
			BatchTimeout: 10 * time.Millisecond,
			MaxAttempts:  3,
			WriteTimeout: publishTimeout,
		},
		timeout: publishTimeout,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher используется, когда брокеры не настроены
type NopPublisher struct {
	log *slog.Logger
}

func NewNopPublisher(log *slog.Logger) *NopPublisher {
	return &NopPublisher{log: log}
}

func (p *NopPublisher) Publish(_ context.Context, event Event) error {
	p.log.Debug("event dropped, kafka disabled",
		slog.String("type", event.Type),
		slog.Int64("order_id", event.OrderID),
	)
	return nil
}

func (p *NopPublisher) Close() error { return nil }
