package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/app"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/messaging/kafka"
	"github.com/Steank-29/tawakkol/internal/messaging/rabbitmq"
	"github.com/Steank-29/tawakkol/internal/notify"
)

const (
	sourceKafka    = "kafka"
	sourceRabbitMQ = "rabbitmq"

	defaultGroupID    = "tawakkol-mailer"
	defaultMaxRetries = 3
)

func parseSource(raw string) (string, error) {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case sourceKafka, sourceRabbitMQ:
		return s, nil
	default:
		return "", fmt.Errorf("unsupported source %q (use kafka|rabbitmq)", raw)
	}
}

// buildSender возвращает SMTP-отправителя, а в режиме dry-run пишет письма в лог.
func buildSender(cfg app.Config, dryRun bool, logger *log.Entry) (domain.Notifier, error) {
	if dryRun {
		return notify.NewLogNotifier(logger), nil
	}
	sender, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp sender: %w", err)
	}
	return sender, nil
}

// kafkaHandler разбирает задание из topic уведомлений и отправляет письмо.
// Неполное задание не ретраится: повтор не исправит тело сообщения.
func kafkaHandler(sender domain.Notifier, logger *log.Entry) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		req, err := kafka.ParseConfirmationRequest(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("drop malformed confirmation request")
			return nil
		}
		if err := sender.SendOrderConfirmation(ctx, req.Order, req.To); err != nil {
			return err
		}
		logger.WithField("order_number", req.Order.Number).Info("confirmation email sent")
		return nil
	}
}

// kafkaGroup — то, что нужно mailer'у от kafka.Consumer.
type kafkaGroup interface {
	Start(ctx context.Context) error
	Stop() error
}

func runKafka(ctx context.Context, group kafkaGroup) error {
	if err := group.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return group.Stop()
}

func newKafkaGroup(cfg app.Config, groupID string, sender domain.Notifier, logger *log.Entry) (kafkaGroup, func(), error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, nil, errors.New("kafka brokers are required (TAWAKKOL_KAFKA_BROKERS)")
	}

	dlq, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, nil, err
	}
	group, err := kafka.NewConsumerWithDLQ(brokers, groupID, []string{cfg.KafkaNotificationTopic},
		kafkaHandler(sender, logger), dlq, defaultMaxRetries)
	if err != nil {
		_ = dlq.Close()
		return nil, nil, err
	}
	return group, func() { _ = dlq.Close() }, nil
}

// runRabbitMQ читает очередь заданий до отмены ctx. Неотправленное письмо получает nack.
func runRabbitMQ(ctx context.Context, ch rabbitmq.Channel, queue string, sender domain.Notifier, logger *log.Entry) error {
	consumer, err := rabbitmq.NewConsumer(ch, queue, defaultGroupID, logger)
	if err != nil {
		return err
	}
	return consumer.Run(ctx, notify.ConfirmationHandler(sender))
}
