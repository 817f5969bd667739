package domain

import "context"

// OrderFilter ограничивает выборку заказов для административного списка.
type OrderFilter struct {
	// Status — пустое значение означает "все статусы".
	Status OrderStatus
	Limit  int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Если номер заказа занят, возвращает ErrOrderNumberConflict;
	// если ID занят, ErrOrderAlreadyExists.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetByNumber ищет заказ по человекочитаемому номеру.
	GetByNumber(ctx context.Context, number string) (Order, error)
	// List возвращает заказы от новых к старым.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}
