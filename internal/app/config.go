package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Steank-29/tawakkol/internal/messaging/kafka"
	"github.com/Steank-29/tawakkol/internal/messaging/rabbitmq"
	"github.com/Steank-29/tawakkol/internal/service/order"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы отправки подтверждений.
const (
	NotifierLog      = "log"
	NotifierSMTP     = "smtp"
	NotifierKafka    = "kafka"
	NotifierRabbitMQ = "rabbitmq"
)

// Переменные окружения сервера витрины.
const (
	envHTTPAddr                    = "TAWAKKOL_HTTP_ADDR"
	envGRPCAddr                    = "TAWAKKOL_GRPC_ADDR"
	envMetricsAddr                 = "TAWAKKOL_METRICS_ADDR"
	envLogLevel                    = "TAWAKKOL_LOG_LEVEL"
	envStorageDriver               = "TAWAKKOL_STORAGE_DRIVER"
	envPostgresDSN                 = "TAWAKKOL_POSTGRES_DSN"
	envPostgresAutoMigrate         = "TAWAKKOL_POSTGRES_AUTO_MIGRATE"
	envRequestTimeout              = "TAWAKKOL_REQUEST_TIMEOUT"
	envMaxNumberAttempts           = "TAWAKKOL_MAX_NUMBER_ATTEMPTS"
	envAdminTokens                 = "TAWAKKOL_ADMIN_TOKENS"
	envOutboxPollInterval          = "TAWAKKOL_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "TAWAKKOL_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "TAWAKKOL_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "TAWAKKOL_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "TAWAKKOL_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "TAWAKKOL_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "TAWAKKOL_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envIdempotencyStaleAfter       = "TAWAKKOL_IDEMPOTENCY_STALE_AFTER"
	envKafkaBrokers                = "TAWAKKOL_KAFKA_BROKERS"
	envKafkaOrderTopic             = "TAWAKKOL_KAFKA_ORDER_TOPIC"
	envKafkaNotificationTopic      = "TAWAKKOL_KAFKA_NOTIFICATION_TOPIC"
	envNotifier                    = "TAWAKKOL_NOTIFIER"
	envNotifyTimeout               = "TAWAKKOL_NOTIFY_TIMEOUT"
	envSMTPHost                    = "TAWAKKOL_SMTP_HOST"
	envSMTPPort                    = "TAWAKKOL_SMTP_PORT"
	envSMTPUsername                = "TAWAKKOL_SMTP_USERNAME"
	envSMTPPassword                = "TAWAKKOL_SMTP_PASSWORD"
	envSMTPFrom                    = "TAWAKKOL_SMTP_FROM"
	envRabbitMQURL                 = "TAWAKKOL_RABBITMQ_URL"
	envRabbitMQQueue               = "TAWAKKOL_RABBITMQ_QUEUE"
)

// Config описывает настройки запуска сервера витрины. Значения сравнимы (==),
// поэтому списки хранятся строками через запятую.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	RequestTimeout    time.Duration
	MaxNumberAttempts int
	// AdminTokens — "token:subject:role,...". Пустое значение отключает административный API.
	AdminTokens string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	// IdempotencyStaleAfter — через сколько зависший ключ в processing освобождается.
	IdempotencyStaleAfter       time.Duration

	KafkaBrokers           string
	KafkaOrderTopic        string
	KafkaNotificationTopic string

	Notifier      string
	NotifyTimeout time.Duration
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFrom      string
	RabbitMQURL   string
	RabbitMQQueue string
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		RequestTimeout:    30 * time.Second,
		MaxNumberAttempts: order.DefaultMaxNumberAttempts,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		IdempotencyStaleAfter:       5 * time.Minute,

		KafkaOrderTopic:        kafka.TopicOrderEvents,
		KafkaNotificationTopic: kafka.TopicNotifications,

		Notifier:      NotifierLog,
		NotifyTimeout: order.DefaultNotifyTimeout,
		SMTPPort:      587,
		RabbitMQQueue: rabbitmq.QueueOrderConfirmations,
	}
}

// Brokers разбирает список Kafka brokers.
func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// EnvLookup совпадает по сигнатуре с os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// LoadConfig читает .env-файлы (отсутствующие пропускаются) и затем переменные окружения.
// Ошибка возвращается только для нечитаемого .env; некорректные значения дают предупреждения.
func LoadConfig(envFiles ...string) (Config, []string, error) {
	for _, path := range envFiles {
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	cfg, warnings := ConfigFromEnv(os.LookupEnv)
	return cfg, warnings, nil
}

// ConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Невалидное значение не применяется, а попадает в список предупреждений.
func ConfigFromEnv(lookup EnvLookup) (Config, []string) {
	cfg := DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}

	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, target *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	integer := func(key string, target *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	duration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}

	positive := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envLogLevel, &cfg.LogLevel)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")
	integer(envMaxNumberAttempts, &cfg.MaxNumberAttempts, positive, "must be > 0")
	str(envAdminTokens, &cfg.AdminTokens)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")
	duration(envIdempotencyStaleAfter, &cfg.IdempotencyStaleAfter, positiveDuration, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaOrderTopic, &cfg.KafkaOrderTopic)
	str(envKafkaNotificationTopic, &cfg.KafkaNotificationTopic)

	if v, ok := lookup(envNotifier); ok && strings.TrimSpace(v) != "" {
		cfg.Notifier = strings.ToLower(strings.TrimSpace(v))
	}
	duration(envNotifyTimeout, &cfg.NotifyTimeout, positiveDuration, "must be > 0")
	str(envSMTPHost, &cfg.SMTPHost)
	integer(envSMTPPort, &cfg.SMTPPort, func(v int) bool { return v > 0 && v <= 65535 }, "must be a tcp port")
	str(envSMTPUsername, &cfg.SMTPUsername)
	if v, ok := lookup(envSMTPPassword); ok {
		cfg.SMTPPassword = v
	}
	str(envSMTPFrom, &cfg.SMTPFrom)
	str(envRabbitMQURL, &cfg.RabbitMQURL)
	str(envRabbitMQQueue, &cfg.RabbitMQQueue)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
