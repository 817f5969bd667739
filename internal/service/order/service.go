package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/metrics"
)

const (
	// DefaultMaxNumberAttempts — сколько раз генерируется номер при коллизиях.
	DefaultMaxNumberAttempts = 5
	// DefaultNotifyTimeout ограничивает отправку письма-подтверждения.
	DefaultNotifyTimeout = 10 * time.Second

	defaultListLimit = 100
	maxListLimit     = 500
)

// CreateResult — ответ на успешное оформление заказа.
type CreateResult struct {
	OrderNumber string
	OrderID     string
	EmailSent   bool
	Order       domain.Order
}

// Service принимает заказы магазина и ведёт их жизненный цикл.
type Service struct {
	repo          domain.OrderRepository
	numbers       domain.OrderNumberGenerator
	timeline      domain.TimelineRepository
	outbox        domain.OutboxRepository
	notifier      domain.Notifier
	metrics       *metrics.OrderMetrics
	logger        *log.Entry
	now           func() time.Time
	newID         func() string
	maxAttempts   int
	notifyTimeout time.Duration
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeline включает запись событий жизненного цикла.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = repo }
}

// WithOutbox включает постановку событий в outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = repo }
}

// WithNotifier задаёт канал отправки подтверждений.
func WithNotifier(n domain.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithMaxNumberAttempts ограничивает число попыток подобрать свободный номер.
func WithMaxNumberAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithNotifyTimeout задаёт таймаут отправки подтверждения.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// NewService конструирует сервис заказов.
func NewService(repo domain.OrderRepository, numbers domain.OrderNumberGenerator, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		numbers:       numbers,
		logger:        log.WithField("component", "order-service"),
		now:           time.Now,
		newID:         uuid.NewString,
		maxAttempts:   DefaultMaxNumberAttempts,
		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder проверяет запрос, сохраняет заказ со свободным номером и отправляет подтверждение.
// Ошибка уведомления не отменяет заказ: она отражается только в EmailSent.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderRequest) (CreateResult, error) {
	started := s.now()
	s.metrics.SubmissionStarted()
	defer s.metrics.SubmissionFinished()

	if err := req.Validate(); err != nil {
		s.metrics.RecordOrderRejected(metrics.RejectValidation)
		s.logger.WithError(err).Debug("order request rejected")
		return CreateResult{}, err
	}

	order := domain.NewOrderFromRequest(s.newID(), req, s.now().UTC())
	if err := s.persistWithFreshNumber(ctx, &order); err != nil {
		reason := metrics.RejectStorage
		if errors.Is(err, domain.ErrOrderNumberExhausted) {
			reason = metrics.RejectExhausted
		}
		s.metrics.RecordOrderRejected(reason)
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist order")
		return CreateResult{}, err
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
	})

	s.appendTimeline(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderCreated,
		Status:   string(order.Status),
		Occurred: order.CreatedAt,
	})
	s.enqueue(ctx, domain.EventTypeOrderCreated, order.ID, domain.NewOrderEvent(order, order.CreatedAt))

	emailSent := s.notify(ctx, order)

	total, _ := order.Total.Float64()
	s.metrics.RecordOrderCreated(total, s.now().Sub(started))
	logger.WithFields(log.Fields{
		"items":      order.ItemCount(),
		"total":      order.Total.StringFixed(2),
		"email_sent": emailSent,
	}).Info("order created")

	return CreateResult{
		OrderNumber: order.Number,
		OrderID:     order.ID,
		EmailSent:   emailSent,
		Order:       order,
	}, nil
}

func (s *Service) persistWithFreshNumber(ctx context.Context, order *domain.Order) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		order.Number = s.numbers.Generate()
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return fmt.Errorf("order invariants violated: %w", errors.Join(errs...))
		}

		err := s.repo.Create(ctx, *order)
		if err == nil {
			return nil
		}
		if !domain.IsNumberConflict(err) {
			return fmt.Errorf("create order: %w", err)
		}

		s.metrics.RecordNumberConflict()
		s.logger.WithFields(log.Fields{
			"order_number": order.Number,
			"attempt":      attempt,
		}).Warn("order number already taken, regenerating")
	}
	return domain.ErrOrderNumberExhausted
}

func (s *Service) notify(ctx context.Context, order domain.Order) bool {
	if s.notifier == nil {
		return false
	}

	nctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	err := s.notifier.SendOrderConfirmation(nctx, order, order.Customer.Email)
	s.metrics.RecordNotification(err == nil)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":     order.ID,
			"order_number": order.Number,
		}).Warn("failed to send order confirmation")
		s.appendTimeline(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineNotification,
			Reason:   "confirmation email failed",
			Occurred: s.now().UTC(),
		})
		return false
	}
	return true
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Order{}, domain.NewValidationError("id", "is required")
	}
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, s.wrapLoad(err, "id", id)
	}
	return order, nil
}

// GetOrderByNumber ищет заказ по номеру, который покупатель видит в подтверждении.
func (s *Service) GetOrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return domain.Order{}, domain.NewValidationError("orderNumber", "is required")
	}
	order, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return domain.Order{}, s.wrapLoad(err, "order_number", number)
	}
	return order, nil
}

// ListOrders возвращает заказы для административного списка.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.WithError(err).Error("failed to list orders")
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus применяет переход статуса, выполненный сотрудником.
func (s *Service) UpdateStatus(ctx context.Context, id string, next domain.OrderStatus, reason string) (domain.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	previous := order.Status
	if err := order.Transition(next, s.now().UTC()); err != nil {
		return domain.Order{}, err
	}

	if err := s.repo.Save(ctx, order); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"status":   next,
		}).Warn("failed to save order status")
		return domain.Order{}, fmt.Errorf("save order: %w", err)
	}
	order.Version++

	s.metrics.RecordStatusChange(string(next))
	s.appendTimeline(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineStatusChanged,
		Status:   string(next),
		Reason:   reason,
		Occurred: order.UpdatedAt,
	})

	event := domain.NewOrderEvent(order, order.UpdatedAt)
	event.Previous = previous
	event.Reason = reason
	s.enqueue(ctx, domain.EventTypeStatusChanged, order.ID, event)

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     previous,
		"to":       next,
	}).Info("order status changed")

	return order, nil
}

// Timeline возвращает историю заказа в порядке наступления.
func (s *Service) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if s.timeline == nil {
		return nil, nil
	}
	events, err := s.timeline.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}

func (s *Service) wrapLoad(err error, field, value string) error {
	if errors.Is(err, domain.ErrOrderNotFound) {
		return err
	}
	s.logger.WithError(err).WithField(field, value).Warn("failed to load order")
	return fmt.Errorf("load order: %w", err)
}

func (s *Service) appendTimeline(ctx context.Context, event domain.TimelineEvent) {
	if s.timeline == nil {
		return
	}
	if event.Occurred.IsZero() {
		event.Occurred = s.now().UTC()
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": event.OrderID,
			"event":    event.Type,
		}).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}

func (s *Service) enqueue(ctx context.Context, eventType, orderID string, payload domain.OrderEvent) {
	if s.outbox == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to encode outbox payload")
		return
	}
	_, err = s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("failed to enqueue outbox event")
		return
	}
	s.metrics.RecordOutboxEvent()
}
