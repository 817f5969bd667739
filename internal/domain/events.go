package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEvent — полезная нагрузка outbox-событий заказа.
type OrderEvent struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Status      OrderStatus     `json:"status"`
	Previous    OrderStatus     `json:"previous_status,omitempty"`
	Email       string          `json:"email,omitempty"`
	Total       decimal.Decimal `json:"total"`
	ItemCount   int             `json:"item_count"`
	Reason      string          `json:"reason,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewOrderEvent собирает событие по текущему состоянию заказа.
func NewOrderEvent(order Order, occurred time.Time) OrderEvent {
	return OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Status:      order.Status,
		Email:       order.Customer.Email,
		Total:       order.Total,
		ItemCount:   order.ItemCount(),
		OccurredAt:  occurred,
	}
}

// ConfirmationRequest — задание на отправку письма, которое notifier передаёт через брокер.
type ConfirmationRequest struct {
	To          string    `json:"to"`
	Order       Order     `json:"order"`
	RequestedAt time.Time `json:"requested_at"`
}
