package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отклонения заказа для метки reason.
const (
	RejectValidation = "validation"
	RejectExhausted  = "number_exhausted"
	RejectStorage    = "storage"
)

// OrderMetrics содержит метрики оформления заказов.
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	ordersRejected  *prometheus.CounterVec
	numberConflicts prometheus.Counter
	notifications   *prometheus.CounterVec
	statusChanges   *prometheus.CounterVec
	createDuration  prometheus.Histogram
	orderTotal      prometheus.Histogram
	timelineEvents  prometheus.Counter
	outboxEvents    prometheus.Counter
	inFlight        prometheus.Gauge
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tawakkol_orders_created_total",
			Help: "Total number of orders accepted and persisted",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "tawakkol_orders_rejected_total",
			Help: "Total number of order submissions rejected, by reason",
		}, []string{"reason"}),
		numberConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tawakkol_order_number_conflicts_total",
			Help: "Total number of order number collisions retried",
		}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "tawakkol_order_notifications_total",
			Help: "Order confirmation notifications, by result",
		}, []string{"result"}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "tawakkol_order_status_changes_total",
			Help: "Order status transitions applied by staff",
		}, []string{"status"}),
		createDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "tawakkol_order_create_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		orderTotal: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "tawakkol_order_total_amount",
			Help:    "Distribution of accepted order totals",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600},
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tawakkol_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tawakkol_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "tawakkol_order_submissions_in_flight",
			Help: "Number of order submissions being processed",
		}),
	}
}

// RecordOrderCreated отмечает принятый заказ и его сумму.
func (m *OrderMetrics) RecordOrderCreated(total float64, duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.orderTotal.Observe(total)
	m.createDuration.Observe(duration.Seconds())
}

// RecordOrderRejected увеличивает счётчик отклонённых заказов.
func (m *OrderMetrics) RecordOrderRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

// RecordNumberConflict увеличивает счётчик коллизий номера.
func (m *OrderMetrics) RecordNumberConflict() {
	if m == nil {
		return
	}
	m.numberConflicts.Inc()
}

// RecordNotification учитывает результат отправки подтверждения.
func (m *OrderMetrics) RecordNotification(sent bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !sent {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}

// RecordStatusChange учитывает смену статуса.
func (m *OrderMetrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// SubmissionStarted увеличивает число обрабатываемых отправок.
func (m *OrderMetrics) SubmissionStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// SubmissionFinished уменьшает число обрабатываемых отправок.
func (m *OrderMetrics) SubmissionFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
