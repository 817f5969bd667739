// Package api описывает JSON-контракт HTTP API заказов, общий для сервера и клиента.
package api

import (
	"encoding/json"

	"github.com/Steank-29/tawakkol/internal/domain"
)

// IdempotencyKeyHeader — заголовок с ключом идемпотентности оформления заказа.
const IdempotencyKeyHeader = "Idempotency-Key"

// Пути API.
const (
	OrdersPath       = "/api/orders"
	OrderByNumberFmt = "/api/orders/number/%s"
)

// MsgCouldNotComplete — сообщение клиенту при внутренней ошибке оформления.
// Подробности остаются в логах сервера.
const MsgCouldNotComplete = "could not complete order"

// MsgRequestInFlight — запрос с тем же ключом идемпотентности ещё исполняется.
const MsgRequestInFlight = "request with the same idempotency key is already processing"

// Envelope — общая обёртка всех ответов.
type Envelope struct {
	Success     bool                `json:"success"`
	Data        json.RawMessage     `json:"data,omitempty"`
	Message     string              `json:"message,omitempty"`
	Errors      []string            `json:"errors,omitempty"`
	FieldErrors []domain.FieldError `json:"fieldErrors,omitempty"`
}

// OrderRef — номер и идентификатор созданного заказа.
type OrderRef struct {
	OrderNumber string `json:"orderNumber"`
	ID          string `json:"id"`
}

// CreateOrderData — data ответа на POST /api/orders.
type CreateOrderData struct {
	Order     OrderRef `json:"order"`
	EmailSent bool     `json:"emailSent"`
}

// OrderWithTimeline — data ответа административного GET /api/admin/orders/{id}.
type OrderWithTimeline struct {
	Order    domain.Order           `json:"order"`
	Timeline []domain.TimelineEvent `json:"timeline"`
}

// StatusUpdate — тело PATCH /api/admin/orders/{id}/status.
type StatusUpdate struct {
	Status domain.OrderStatus `json:"status"`
	Reason string             `json:"reason,omitempty"`
}

// NewEnvelope упаковывает data в успешный ответ.
func NewEnvelope(data any, message string) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Success: true, Data: raw, Message: message}, nil
}

// ErrorEnvelope строит ответ об ошибке. Ошибка валидации раскладывается по полям.
func ErrorEnvelope(message string, err error) Envelope {
	env := Envelope{Success: false, Message: message}
	if verr, ok := domain.AsValidation(err); ok {
		env.FieldErrors = append(env.FieldErrors, verr.Fields...)
		env.Errors = verr.Messages()
		return env
	}
	if err != nil {
		env.Errors = []string{err.Error()}
	}
	return env
}

// Validation собирает *domain.ValidationError из fieldErrors ответа. Возвращает nil, если их нет.
func (e Envelope) Validation() *domain.ValidationError {
	if len(e.FieldErrors) == 0 {
		return nil
	}
	return &domain.ValidationError{Fields: append([]domain.FieldError(nil), e.FieldErrors...)}
}
