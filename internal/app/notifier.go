package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/health"
	"github.com/Steank-29/tawakkol/internal/messaging/kafka"
	"github.com/Steank-29/tawakkol/internal/messaging/rabbitmq"
	"github.com/Steank-29/tawakkol/internal/notify"
)

// notifierBundle — выбранный способ отправки подтверждений и его ресурсы.
type notifierBundle struct {
	notifier domain.Notifier
	checker  health.Checker
	closeFn  func() error
}

func (b notifierBundle) close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// initNotifier собирает Notifier по cfg.Notifier. Kafka-драйвер использует общий producer,
// поэтому без brokers он недоступен.
func initNotifier(cfg Config, producer *kafka.Producer, logger *log.Entry) (notifierBundle, error) {
	switch cfg.Notifier {
	case "", NotifierLog:
		return notifierBundle{notifier: notify.NewLogNotifier(logger.WithField("notifier", NotifierLog))}, nil

	case NotifierSMTP:
		smtpNotifier, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return notifierBundle{}, fmt.Errorf("smtp notifier: %w", err)
		}
		return notifierBundle{notifier: smtpNotifier}, nil

	case NotifierKafka:
		if producer == nil {
			return notifierBundle{}, errors.New("kafka notifier requires TAWAKKOL_KAFKA_BROKERS")
		}
		return notifierBundle{notifier: notify.NewKafkaNotifier(producer, cfg.KafkaNotificationTopic)}, nil

	case NotifierRabbitMQ:
		if cfg.RabbitMQURL == "" {
			return notifierBundle{}, errors.New("rabbitmq notifier requires TAWAKKOL_RABBITMQ_URL")
		}
		conn, ch, err := rabbitmq.Dial(cfg.RabbitMQURL)
		if err != nil {
			return notifierBundle{}, err
		}
		publisher, err := rabbitmq.NewPublisher(ch, cfg.RabbitMQQueue)
		if err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return notifierBundle{}, err
		}
		logger.WithField("queue", cfg.RabbitMQQueue).Info("rabbitmq notifier initialized")
		return notifierBundle{
			notifier: notify.NewRabbitNotifier(publisher),
			checker: health.NewOptionalChecker("rabbitmq", func(context.Context) error {
				if conn.IsClosed() {
					return errors.New("connection closed")
				}
				return nil
			}),
			closeFn: func() error {
				return errors.Join(publisher.Close(), conn.Close())
			},
		}, nil

	default:
		return notifierBundle{}, fmt.Errorf("unsupported notifier %q", cfg.Notifier)
	}
}
