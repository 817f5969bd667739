package domain

import (
	"context"
	"time"
)

// CartSnapshotStorage — долговременное хранилище снимка корзины (один ключ — один JSON-массив строк).
type CartSnapshotStorage interface {
	// Load возвращает сохранённые байты или ErrCartSnapshotNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	// Delete удаляет снимок; отсутствие снимка ошибкой не считается.
	Delete(ctx context.Context, key string) error
}

// Notifier отправляет покупателю подтверждение заказа.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order Order, to string) error
}

// OrderNumberGenerator выдаёт человекочитаемые номера заказов. Уникальность не гарантируется.
type OrderNumberGenerator interface {
	Generate() string
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Delete освобождает ключ, чтобы повтор запроса выполнился заново.
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
	// ReleaseStale удаляет ключи, застрявшие в processing с момента раньше startedBefore.
	ReleaseStale(ctx context.Context, startedBefore time.Time, limit int) (int, error)
}

// Типы событий outbox.
const (
	AggregateTypeOrder      = "order"
	EventTypeOrderCreated   = "order.created"
	EventTypeStatusChanged  = "order.status_changed"
	EventTypeConfirmRequest = "order.confirmation_requested"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
