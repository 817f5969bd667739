package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated  = "order_created"
	TimelineStatusChanged = "status_changed"
	TimelineNotification  = "notification"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string    `json:"orderId"`
	Type     string    `json:"type"`
	Status   string    `json:"status,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}
