package grpctransport

import "github.com/Steank-29/tawakkol/internal/domain"

// CreateOrderRequest — запрос оформления. Ключ идемпотентности передаётся в metadata.
type CreateOrderRequest struct {
	Order domain.OrderRequest `json:"order"`
}

// CreateOrderResponse — номер и идентификатор нового заказа.
type CreateOrderResponse struct {
	OrderNumber string `json:"orderNumber"`
	OrderID     string `json:"orderId"`
	EmailSent   bool   `json:"emailSent"`
}

type GetOrderRequest struct {
	OrderID string `json:"orderId"`
}

type GetOrderResponse struct {
	Order    domain.Order           `json:"order"`
	Timeline []domain.TimelineEvent `json:"timeline"`
}

type GetOrderByNumberRequest struct {
	OrderNumber string `json:"orderNumber"`
}

type OrderResponse struct {
	Order domain.Order `json:"order"`
}

type ListOrdersRequest struct {
	Status domain.OrderStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
}

type ListOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

type UpdateStatusRequest struct {
	OrderID string             `json:"orderId"`
	Status  domain.OrderStatus `json:"status"`
	Reason  string             `json:"reason,omitempty"`
}
