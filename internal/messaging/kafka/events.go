package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/Steank-29/tawakkol/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "tawakkol.order.events"
	TopicNotifications   = "tawakkol.notifications"
	TopicDeadLetterQueue = "tawakkol.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// Envelope — сообщение outbox в том виде, в каком оно уходит в topic.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt,
	}
}

// ParseEnvelope разбирает сообщение outbox.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope has no event type")
	}
	return env, nil
}

// ParseOrderEvent достаёт событие заказа из envelope.
func ParseOrderEvent(message *sarama.ConsumerMessage) (Envelope, domain.OrderEvent, error) {
	env, err := ParseEnvelope(message)
	if err != nil {
		return Envelope{}, domain.OrderEvent{}, err
	}
	var event domain.OrderEvent
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		return env, domain.OrderEvent{}, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return env, event, nil
}

// ParseConfirmationRequest парсит задание на отправку письма.
func ParseConfirmationRequest(message *sarama.ConsumerMessage) (domain.ConfirmationRequest, error) {
	var req domain.ConfirmationRequest
	if err := json.Unmarshal(message.Value, &req); err != nil {
		return domain.ConfirmationRequest{}, fmt.Errorf("failed to unmarshal confirmation request: %w", err)
	}
	if req.To == "" || req.Order.Number == "" {
		return domain.ConfirmationRequest{}, fmt.Errorf("confirmation request is incomplete")
	}
	return req, nil
}
