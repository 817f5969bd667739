package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
)

// LogNotifier только пишет подтверждение в лог. Драйвер по умолчанию для разработки.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "log-notifier")
	}
	return &LogNotifier{logger: logger}
}

// SendOrderConfirmation логирует письмо.
func (n *LogNotifier) SendOrderConfirmation(ctx context.Context, order domain.Order, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body, err := RenderConfirmation(order)
	if err != nil {
		return err
	}
	n.logger.WithFields(log.Fields{
		"to":           to,
		"subject":      subject,
		"order_number": order.Number,
	}).Info("order confirmation")
	n.logger.Debug(body)
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)
