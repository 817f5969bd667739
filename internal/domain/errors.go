package domain

import (
	"errors"
	"strings"
)

var (
	// ErrValidation — общий маркер ошибок валидации (формы, запроса, позиции корзины).
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (< 1).
	ErrItemQtyInvalid = errors.New("item quantity must be at least 1")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отрицательной денежной суммы заказа.
	ErrAmountNegative = errors.New("order amounts must be non-negative")
	// Ошибка несоответствия итоговой суммы и её слагаемых.
	ErrTotalMismatch = errors.New("total does not equal subtotal + shipping + tax")
	// Ошибка несоответствия subtotal и суммы позиций.
	ErrSubtotalMismatch = errors.New("subtotal does not match items sum")
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("order number is required")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists возвращается при повторной вставке заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderNumberConflict — сгенерированный номер уже занят другим заказом.
	ErrOrderNumberConflict = errors.New("order number already taken")
	// ErrOrderNumberExhausted — исчерпаны попытки подобрать свободный номер заказа.
	ErrOrderNumberExhausted = errors.New("could not complete order")
	// ErrStatusTransition — недопустимый переход статуса заказа.
	ErrStatusTransition = errors.New("order status transition is not allowed")
	// ErrUnknownStatus — статус не входит в перечисление.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrOrderServiceUnreachable — транспортная ошибка при обращении к сервису заказов (сеть, таймаут).
	ErrOrderServiceUnreachable = errors.New("cannot reach order service")
	// ErrOrderRejected — сервис заказов отклонил запрос не по причине валидации.
	ErrOrderRejected = errors.New("order service rejected the request")
	// ErrCartPersist — изменение корзины применено в памяти, но снимок не сохранён.
	ErrCartPersist = errors.New("cart snapshot was not persisted")
	// ErrCartSnapshotNotFound возвращается хранилищем, если снимка корзины ещё нет.
	ErrCartSnapshotNotFound = errors.New("cart snapshot not found")
	// ErrProductNotFound — каталог не знает такого товара.
	ErrProductNotFound = errors.New("product not found")
	// ErrNotificationFailed — уведомление о заказе не доставлено.
	ErrNotificationFailed = errors.New("order notification failed")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// FieldError описывает ошибку конкретного поля формы или запроса.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError собирает все ошибки полей, чтобы показать их пользователю разом.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError создаёт ошибку валидации с одним полем.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add добавляет ошибку поля.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Empty сообщает, что ошибок нет.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Has проверяет наличие ошибки для поля.
func (e *ValidationError) Has(field string) bool {
	if e == nil {
		return false
	}
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Messages возвращает ошибки в формате "field: message".
func (e *ValidationError) Messages() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f.Error())
	}
	return out
}

// OrNil возвращает nil, если ошибок нет; удобно в конце валидации.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Messages(), "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// AsValidation извлекает ValidationError из цепочки ошибок.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNumberConflict проверяет, что номер заказа уже занят и генерацию стоит повторить.
func IsNumberConflict(err error) bool {
	return errors.Is(err, ErrOrderNumberConflict)
}

// IsIdempotencyConflict сообщает, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
