package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/messaging/kafka"
	"github.com/Steank-29/tawakkol/internal/messaging/rabbitmq"
)

// KafkaNotifier ставит задание на отправку письма в Kafka; письмо отправляет cmd/mailer.
type KafkaNotifier struct {
	producer *kafka.Producer
	topic    string
	now      func() time.Time
}

// NewKafkaNotifier создаёт KafkaNotifier.
func NewKafkaNotifier(producer *kafka.Producer, topic string) *KafkaNotifier {
	if topic == "" {
		topic = kafka.TopicNotifications
	}
	return &KafkaNotifier{producer: producer, topic: topic, now: time.Now}
}

// SendOrderConfirmation публикует domain.ConfirmationRequest с ключом по номеру заказа.
func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, order domain.Order, to string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationFailed, err)
	}
	req := domain.ConfirmationRequest{To: to, Order: order, RequestedAt: n.now().UTC()}
	err := n.producer.PublishEventWithHeaders(n.topic, order.Number, req, map[string]string{
		kafka.HeaderEventType: domain.EventTypeConfirmRequest,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationFailed, err)
	}
	return nil
}

// RabbitNotifier ставит задание на отправку письма в очередь RabbitMQ.
type RabbitNotifier struct {
	publisher *rabbitmq.Publisher
	now       func() time.Time
}

// NewRabbitNotifier создаёт RabbitNotifier.
func NewRabbitNotifier(publisher *rabbitmq.Publisher) *RabbitNotifier {
	return &RabbitNotifier{publisher: publisher, now: time.Now}
}

// SendOrderConfirmation публикует domain.ConfirmationRequest.
func (n *RabbitNotifier) SendOrderConfirmation(ctx context.Context, order domain.Order, to string) error {
	body, err := json.Marshal(domain.ConfirmationRequest{To: to, Order: order, RequestedAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode confirmation request: %w", err)
	}
	if err := n.publisher.PublishJSON(ctx, body); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationFailed, err)
	}
	return nil
}

// ConfirmationHandler декодирует задание и передаёт его sender. Используется consumer'ами mailer'а.
func ConfirmationHandler(sender domain.Notifier) func(ctx context.Context, body []byte) error {
	return func(ctx context.Context, body []byte) error {
		var req domain.ConfirmationRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("decode confirmation request: %w", err)
		}
		if req.To == "" || req.Order.Number == "" {
			return fmt.Errorf("confirmation request is incomplete")
		}
		return sender.SendOrderConfirmation(ctx, req.Order, req.To)
	}
}

var (
	_ domain.Notifier = (*KafkaNotifier)(nil)
	_ domain.Notifier = (*RabbitNotifier)(nil)
)
