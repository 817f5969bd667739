// Package outbox доставляет события заказов из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/retry"
)

// Результаты доставки для метрик.
const (
	resultSent         = "sent"
	resultRetried      = "retried"
	resultDeadLettered = "dead_lettered"
	resultDLQFailed    = "dlq_failed"
	resultMalformed    = "malformed"
)

var (
	orderEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tawakkol_order_events_total",
		Help: "Order events relayed from the outbox, by event type and result.",
	}, []string{"event_type", "result"})
	orderEventsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tawakkol_order_events_pending",
		Help: "Order events waiting in the outbox.",
	})
	orderEventsOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tawakkol_order_events_oldest_pending_age_seconds",
		Help: "Age of the oldest order event waiting in the outbox.",
	})
)

// errMissingOrderNumber — событие без номера заказа: потребитель не свяжет его с заказом.
var errMissingOrderNumber = errors.New("order event has no order number")

// RelayConfig — расписание и повторы доставки.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryDelay   time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// RelayOption настраивает Relay.
type RelayOption func(*Relay)

// WithDeadLetter задаёт publisher, куда уходят события после исчерпания попыток.
func WithDeadLetter(publisher domain.OutboxPublisher) RelayOption {
	return func(r *Relay) {
		r.deadLetter = publisher
	}
}

// WithRelayLogger задаёт логгер.
func WithRelayLogger(logger *log.Entry) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Relay публикует события order.created и order.status_changed в порядке записи.
//
// Событие, которое не удалось доставить за MaxAttempts, помечается failed и
// уходит в dead letter. Событие без номера заказа туда же, но без повторов.
type Relay struct {
	repo       domain.OutboxRepository
	publisher  domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
	cfg        RelayConfig
	retrier    *retry.Retrier
	logger     *log.Entry
}

// NewRelay создаёт Relay.
func NewRelay(repo domain.OutboxRepository, publisher domain.OutboxPublisher, cfg RelayConfig, opts ...RelayOption) *Relay {
	cfg = cfg.withDefaults()
	r := &Relay{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    log.WithField("component", "order-event-relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.retrier = retry.New(
		retry.Config{MaxAttempts: cfg.MaxAttempts, InitialDelay: cfg.RetryDelay},
		retry.WithLogger(r.logger),
	)
	return r
}

// Run доставляет события каждые PollInterval до отмены ctx.
func (r *Relay) Run(ctx context.Context) {
	if r.repo == nil || r.publisher == nil {
		r.logger.Warn("order event relay is disabled: no outbox or publisher")
		return
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.RelayOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RelayOnce(ctx)
		}
	}
}

// RelayOnce забирает одну порцию событий и возвращает число доставленных.
func (r *Relay) RelayOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	r.observeBacklog(ctx)

	messages, err := r.repo.PullPending(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.WithError(err).Warn("failed to pull order events from outbox")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if r.deliver(ctx, msg) {
			sent++
		}
	}

	if len(messages) > 0 {
		r.observeBacklog(ctx)
	}
	if sent > 0 {
		r.logger.WithField("sent", sent).Debug("order events relayed")
	}
	return sent
}

func (r *Relay) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	eventType := eventTypeLabel(msg.EventType)
	event, err := decodeOrderEvent(msg)
	logger := r.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"order_number": event.OrderNumber,
		"status":       event.Status,
	})

	if err != nil {
		orderEventsTotal.WithLabelValues(eventType, resultMalformed).Inc()
		logger.WithError(err).Error("order event cannot be relayed")
		r.fail(ctx, logger, msg, event, err)
		return false
	}

	attempts := 0
	err = r.retrier.Do(ctx, msg.EventType, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			orderEventsTotal.WithLabelValues(eventType, resultRetried).Inc()
		}
		return r.publisher.Publish(ctx, msg)
	})
	if err != nil {
		if ctx.Err() != nil {
			// Событие остаётся pending и уйдёт в следующем запуске.
			return false
		}
		logger.WithError(err).WithField("attempts", attempts).Error("order event was not delivered")
		r.fail(ctx, logger, msg, event, fmt.Errorf("publish failed after %d attempts: %w", attempts, err))
		return false
	}

	if err := r.repo.MarkSent(ctx, msg.ID); err != nil {
		logger.WithError(err).Warn("order event delivered but not marked as sent")
		return false
	}
	orderEventsTotal.WithLabelValues(eventType, resultSent).Inc()
	logger.Debug("order event relayed")
	return true
}

func (r *Relay) fail(ctx context.Context, logger *log.Entry, msg domain.OutboxMessage, event domain.OrderEvent, cause error) {
	if err := r.publishDeadLetter(ctx, msg, event, cause); err != nil {
		orderEventsTotal.WithLabelValues(eventTypeLabel(msg.EventType), resultDLQFailed).Inc()
		logger.WithError(err).Warn("failed to dead-letter order event")
	} else if r.deadLetter != nil {
		orderEventsTotal.WithLabelValues(eventTypeLabel(msg.EventType), resultDeadLettered).Inc()
	}
	if err := r.repo.MarkFailed(ctx, msg.ID); err != nil {
		logger.WithError(err).Warn("failed to mark order event as failed")
	}
}

// deadLetter — запись dead letter очереди; её читает cmd/dlq-reprocess.
type deadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	OrderNumber    string          `json:"order_number,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at"`
}

func (r *Relay) publishDeadLetter(ctx context.Context, msg domain.OutboxMessage, event domain.OrderEvent, cause error) error {
	if r.deadLetter == nil {
		return nil
	}

	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(msg.Payload))
	}
	body, err := json.Marshal(deadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		OrderNumber:    event.OrderNumber,
		Payload:        payload,
		PublishError:   cause.Error(),
		DeadLetteredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	return r.deadLetter.Publish(ctx, domain.OutboxMessage{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       body,
	})
}

func (r *Relay) observeBacklog(ctx context.Context) {
	stats, err := r.repo.Stats(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("failed to read outbox backlog")
		return
	}

	orderEventsPending.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		orderEventsOldestPendingAge.Set(0)
		return
	}
	orderEventsOldestPendingAge.Set(max(time.Since(stats.OldestPendingAt).Seconds(), 0))
}

// decodeOrderEvent читает полезную нагрузку события заказа.
func decodeOrderEvent(msg domain.OutboxMessage) (domain.OrderEvent, error) {
	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return domain.OrderEvent{}, fmt.Errorf("decode %s payload: %w", msg.EventType, err)
	}
	if event.OrderNumber == "" {
		return event, errMissingOrderNumber
	}
	return event, nil
}

// eventTypeLabel ограничивает метку метрики известными типами.
func eventTypeLabel(eventType string) string {
	switch eventType {
	case domain.EventTypeOrderCreated, domain.EventTypeStatusChanged:
		return eventType
	default:
		return "other"
	}
}
