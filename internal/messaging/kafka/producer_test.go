package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
)

func TestProducer_PublishEvent(t *testing.T) {
	// Создаем mock producer
	mockProducer := mocks.NewSyncProducer(t, nil)
	
	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидания
	mockProducer.ExpectSendMessageAndSucceed()

	// Создаем тестовое событие
	event := domain.NewOrderEvent(domain.Order{ID: "test-order-123", Number: "ORD2503141234", Status: domain.OrderStatusPending}, time.Now())

	// Публикуем событие
	err := producer.PublishEvent(TopicOrderEvents, "test-order-123", event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Проверяем, что все ожидания выполнены
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	// Создаем mock producer с ошибкой
	mockProducer := mocks.NewSyncProducer(t, nil)
	
	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидание ошибки
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := domain.NewOrderEvent(domain.Order{ID: "test-order-123"}, time.Now())

	// Публикуем событие
	err := producer.PublishEvent(TopicOrderEvents, "test-order-123", event)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEventWithHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		for _, h := range msg.Headers {
			if string(h.Key) == HeaderEventType && string(h.Value) == "order.created" {
				return nil
			}
		}
		return errors.New("event type header is missing")
	})

	producer := NewProducerWithClient(mockProducer, log.WithField("component", "kafka-producer-test"))
	err := producer.PublishEventWithHeaders(TopicOrderEvents, "order-1", map[string]string{"a": "b"}, map[string]string{
		HeaderEventType: "order.created",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_NilClient(t *testing.T) {
	var producer *Producer
	if err := producer.PublishEvent(TopicOrderEvents, "k", struct{}{}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestNewEnvelope(t *testing.T) {
	now := time.Now().UTC()
	env := NewEnvelope(domain.OutboxMessage{
		ID:            "m-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventTypeOrderCreated,
	}, now)

	if string(env.Payload) != "null" {
		t.Fatalf("empty payload must encode as null, got %s", env.Payload)
	}
	if env.AggregateID != "order-1" || !env.PublishedAt.Equal(now) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
