package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics — метрики HTTP API витрины.
type HTTPMetrics struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	idempotentReply prometheus.Counter
}

// NewHTTPMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewHTTPMetrics() *HTTPMetrics {
	return NewHTTPMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewHTTPMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewHTTPMetricsWithRegisterer(registerer prometheus.Registerer) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &HTTPMetrics{
		requests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "tawakkol_http_requests_total",
			Help: "HTTP requests served, by route, method and status code",
		}, []string{"route", "method", "code"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "tawakkol_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		idempotentReply: registerCounter(registerer, prometheus.CounterOpts{
			Name: "tawakkol_http_idempotent_replays_total",
			Help: "Responses served from the idempotency store instead of re-executing",
		}),
	}
}

// ObserveRequest фиксирует обработанный запрос. route содержит шаблон маршрута, а не фактический путь.
func (m *HTTPMetrics) ObserveRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route, method).Observe(d.Seconds())
}

// RecordIdempotentReplay отмечает ответ, отданный из хранилища идемпотентности.
func (m *HTTPMetrics) RecordIdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentReply.Inc()
}
