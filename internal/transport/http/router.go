// Package httptransport публикует сервис заказов по HTTP (chi).
package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/api"
	"github.com/Steank-29/tawakkol/internal/auth"
	"github.com/Steank-29/tawakkol/internal/metrics"
	"github.com/Steank-29/tawakkol/internal/service/idempotency"
	"github.com/Steank-29/tawakkol/internal/service/order"
)

// DefaultRequestTimeout ограничивает обработку одного запроса.
const DefaultRequestTimeout = 30 * time.Second

const maxBodyBytes = 1 << 20

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithGuard включает идемпотентность оформления заказа.
func WithGuard(g *idempotency.Guard) Option {
	return func(h *Handler) {
		h.guard = g
	}
}

// WithAuthenticator включает административные маршруты.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(h *Handler) {
		h.authn = a
	}
}

// WithMetrics задаёт метрики HTTP.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithRequestTimeout задаёт таймаут обработки запроса.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler содержит обработчики API заказов.
type Handler struct {
	orders  *order.Service
	guard   *idempotency.Guard
	authn   auth.Authenticator
	metrics *metrics.HTTPMetrics
	logger  *log.Entry
	timeout time.Duration
}

// NewHandler создаёт обработчики поверх сервиса заказов.
func NewHandler(orders *order.Service, opts ...Option) *Handler {
	h := &Handler{
		orders:  orders,
		logger:  log.WithField("component", "http"),
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router собирает chi-маршрутизатор. Административные маршруты подключаются только при наличии Authenticator.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusNotFound, api.Envelope{Message: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, api.Envelope{Message: "method not allowed"})
	})

	r.Post(api.OrdersPath, h.createOrder)
	r.Get(api.OrdersPath+"/number/{number}", h.orderByNumber)

	if h.authn != nil {
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(auth.RequireRole(h.authn, auth.RoleAdmin, func(w http.ResponseWriter, status int, err error) {
				writeEnvelope(w, status, api.ErrorEnvelope(http.StatusText(status), err))
			}))
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{id}", h.getOrder)
			r.Patch("/orders/{id}/status", h.updateStatus)
		})
	}

	return r
}

// requestLogger пишет одну строку на запрос и снимает метрики по шаблону маршрута.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		h.metrics.ObserveRequest(route, r.Method, status, elapsed)

		entry := h.logger.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"bytes":      ww.BytesWritten(),
			"duration":   elapsed.String(),
			"request_id": middleware.GetReqID(r.Context()),
		})
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	})
}
