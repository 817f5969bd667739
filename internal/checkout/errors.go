package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/Steank-29/tawakkol/internal/domain"
)

var (
	// ErrInvalidState — действие недоступно в текущем состоянии оформления.
	ErrInvalidState = errors.New("action is not available in the current checkout state")
	// ErrPaymentMethodDisabled — способ оплаты есть в интерфейсе, но не принимается.
	ErrPaymentMethodDisabled = errors.New("payment method is disabled")
	// ErrSubmissionInProgress — заказ уже отправляется.
	ErrSubmissionInProgress = errors.New("order submission is already in progress")
)

// SubmissionKind классифицирует неудачную отправку заказа.
type SubmissionKind string

const (
	// KindUnreachable — сервер недоступен или не ответил вовремя. Можно повторить.
	KindUnreachable SubmissionKind = "unreachable"
	// KindInvalid — сервер отклонил поля запроса.
	KindInvalid SubmissionKind = "invalid"
	// KindInFlight — запрос с тем же ключом ещё обрабатывается. Можно повторить.
	KindInFlight SubmissionKind = "in_flight"
	// KindCanceled — покупатель прервал отправку.
	KindCanceled SubmissionKind = "canceled"
	// KindRejected — сервер отказал по иной причине.
	KindRejected SubmissionKind = "rejected"
)

// SubmissionError — ошибка отправки, которую можно показать покупателю.
type SubmissionError struct {
	Kind   SubmissionKind
	Fields []domain.FieldError
	Err    error
}

func (e *SubmissionError) Error() string {
	switch e.Kind {
	case KindUnreachable:
		return fmt.Sprintf("cannot reach the order service: %v", e.Err)
	case KindInvalid:
		return fmt.Sprintf("order was rejected: %v", e.Err)
	case KindInFlight:
		return fmt.Sprintf("order is still being processed: %v", e.Err)
	case KindCanceled:
		return "order submission was canceled"
	default:
		return fmt.Sprintf("server rejected the request: %v", e.Err)
	}
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Retryable сообщает, имеет ли смысл повторить ту же отправку.
func (e *SubmissionError) Retryable() bool {
	return e.Kind == KindUnreachable || e.Kind == KindInFlight
}

func classify(err error) *SubmissionError {
	if verr, ok := domain.AsValidation(err); ok {
		return &SubmissionError{Kind: KindInvalid, Fields: verr.Fields, Err: err}
	}
	// Отмена проверяется раньше недоступности: клиенты оборачивают её в ErrOrderServiceUnreachable.
	if errors.Is(err, context.Canceled) {
		return &SubmissionError{Kind: KindCanceled, Err: err}
	}
	if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		return &SubmissionError{Kind: KindInFlight, Err: err}
	}
	if errors.Is(err, domain.ErrOrderServiceUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return &SubmissionError{Kind: KindUnreachable, Err: err}
	}
	return &SubmissionError{Kind: KindRejected, Err: err}
}
