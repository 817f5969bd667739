package outbox

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
)

// LogPublisher пишет события в лог. Используется, когда брокер не настроен,
// чтобы outbox не накапливал backlog.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

// Publish логирует событие заказа и всегда завершается успешно.
func (p *LogPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	fields := log.Fields{
		"outbox_id":  msg.ID,
		"order_id":   msg.AggregateID,
		"event_type": msg.EventType,
	}
	if event, err := decodeOrderEvent(msg); err == nil {
		fields["order_number"] = event.OrderNumber
		fields["status"] = event.Status
		if event.Previous != "" {
			fields["previous_status"] = event.Previous
		}
	} else {
		fields["payload"] = string(msg.Payload)
	}
	p.logger.WithFields(fields).Info("order event")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
