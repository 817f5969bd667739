package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const (
	// QueueOrderConfirmations — очередь заданий на отправку писем.
	QueueOrderConfirmations = "tawakkol.order.confirmations"

	publishTimeout = 3 * time.Second
)

// Channel — подмножество *amqp.Channel, которое нужно пакету.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Dial подключается к брокеру и открывает канал.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

func declare(ch Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

// Publisher отправляет JSON-сообщения в durable-очередь через default exchange.
type Publisher struct {
	ch    Channel
	queue string
}

// NewPublisher объявляет очередь и возвращает publisher.
func NewPublisher(ch Channel, queue string) (*Publisher, error) {
	if queue == "" {
		queue = QueueOrderConfirmations
	}
	if err := declare(ch, queue); err != nil {
		return nil, err
	}
	return &Publisher{ch: ch, queue: queue}, nil
}

// PublishJSON публикует тело как persistent-сообщение.
func (p *Publisher) PublishJSON(ctx context.Context, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.ch.PublishWithContext(pubCtx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return nil
}

// Close закрывает канал.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// Handler обрабатывает тело сообщения.
type Handler func(ctx context.Context, body []byte) error

// Consumer читает очередь с ручным подтверждением.
type Consumer struct {
	ch     Channel
	queue  string
	tag    string
	logger *log.Entry
}

// NewConsumer объявляет очередь и возвращает consumer.
func NewConsumer(ch Channel, queue, tag string, logger *log.Entry) (*Consumer, error) {
	if queue == "" {
		queue = QueueOrderConfirmations
	}
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-consumer")
	}
	if err := declare(ch, queue); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queue: queue, tag: tag, logger: logger}, nil
}

// Run обрабатывает сообщения до отмены ctx или закрытия канала.
// Ошибка обработчика приводит к Nack без повторной постановки в очередь.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.logger.WithField("queue", c.queue).Info("rabbitmq consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("rabbitmq consumer stopped")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			if err := handle(ctx, msg.Body); err != nil {
				c.logger.WithError(err).WithField("delivery_tag", msg.DeliveryTag).Warn("message handling failed")
				if nackErr := msg.Nack(false, false); nackErr != nil {
					c.logger.WithError(nackErr).Warn("failed to nack message")
				}
				continue
			}
			if ackErr := msg.Ack(false); ackErr != nil {
				c.logger.WithError(ackErr).Warn("failed to ack message")
			}
		}
	}
}
