// Команда mailer отправляет письма-подтверждения заказов. Задания приходят из Kafka
// (TAWAKKOL_NOTIFIER=kafka на сервере) или из очереди RabbitMQ (TAWAKKOL_NOTIFIER=rabbitmq).
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/app"
	"github.com/Steank-29/tawakkol/internal/messaging/rabbitmq"
	"github.com/Steank-29/tawakkol/internal/version"
)

func setupLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		return err
	}
	log.SetLevel(parsed)
	return nil
}

func main() {
	var (
		envFile   string
		sourceRaw string
		groupID   string
		dryRun    bool
	)
	flag.StringVar(&envFile, "env-file", ".env", "path to .env file (missing file is ignored)")
	flag.StringVar(&sourceRaw, "source", sourceKafka, "where confirmation requests come from: kafka|rabbitmq")
	flag.StringVar(&groupID, "group", defaultGroupID, "Kafka consumer group")
	flag.BoolVar(&dryRun, "dry-run", false, "log emails instead of sending them over SMTP")
	flag.Parse()

	cfg, warnings, err := app.LoadConfig(envFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := setupLogger(cfg.LogLevel); err != nil {
		log.WithError(err).Warn("unknown log level, using info")
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	source, err := parseSource(sourceRaw)
	if err != nil {
		log.WithError(err).Fatal("invalid source")
	}

	logger := log.WithFields(log.Fields{"component": "mailer", "source": source})
	sender, err := buildSender(cfg, dryRun, logger)
	if err != nil {
		log.WithError(err).Fatal("failed to configure sender")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("build", version.String()).Info("mailer started")

	switch source {
	case sourceKafka:
		group, closeDLQ, err := newKafkaGroup(cfg, groupID, sender, logger)
		if err != nil {
			log.WithError(err).Fatal("failed to create kafka consumer")
		}
		defer closeDLQ()
		err = runKafka(ctx, group)
		if err != nil {
			logger.WithError(err).Error("kafka consumer stopped with error")
		}
	case sourceRabbitMQ:
		if cfg.RabbitMQURL == "" {
			log.Fatal("TAWAKKOL_RABBITMQ_URL is required for the rabbitmq source")
		}
		conn, ch, err := rabbitmq.Dial(cfg.RabbitMQURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to rabbitmq")
		}
		defer func() { _ = conn.Close() }()
		defer func() { _ = ch.Close() }()

		if err := runRabbitMQ(ctx, ch, cfg.RabbitMQQueue, sender, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("rabbitmq consumer stopped with error")
		}
	}

	logger.Info("mailer stopped")
}
