package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа магазина.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят, но ещё не подтверждён сотрудником.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — заказ подтверждён и ждёт сборки.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing — заказ собирается.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ вручён покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// Valid проверяет, что статус входит в перечисление.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo сообщает, разрешён ли переход из текущего статуса в next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	// PaymentCashOnDelivery — оплата при получении, единственный включённый способ.
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	// PaymentCard существует в интерфейсе, но пока отключён.
	PaymentCard PaymentMethod = "card"
)

// Enabled сообщает, принимается ли способ оплаты.
func (m PaymentMethod) Enabled() bool {
	return m == PaymentCashOnDelivery
}

// ShippingDetails — контактные данные и адрес доставки покупателя.
type ShippingDetails struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country"`
	Notes         string `json:"notes,omitempty"`
	PreferredSize string `json:"preferredSize,omitempty"`
}

// OrderLine — снимок строки корзины в момент оформления.
type OrderLine struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Size       string          `json:"size,omitempty"`
	Color      string          `json:"color,omitempty"`
	ImageRef   string          `json:"image,omitempty"`
	VariantKey string          `json:"variantKey"`
}

// LineTotal возвращает цену строки без округления.
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderLineFromCart копирует строку корзины в строку заказа.
func OrderLineFromCart(l CartLine) OrderLine {
	return OrderLine{
		ProductID:  l.ProductID,
		Name:       l.Name,
		UnitPrice:  l.UnitPrice,
		Quantity:   l.Quantity,
		Size:       l.Size,
		Color:      l.Color,
		ImageRef:   l.ImageRef,
		VariantKey: l.VariantKey,
	}
}

// TotalsTolerance — допустимое расхождение total и суммы слагаемых.
var TotalsTolerance = decimal.New(1, -2)

// OrderRequest — данные, которые клиент отправляет при оформлении заказа.
type OrderRequest struct {
	Customer      ShippingDetails `json:"customer"`
	Items         []OrderLine     `json:"items"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
}

type roundedAmounts struct {
	subtotal, shipping, tax, total decimal.Decimal
}

func (r OrderRequest) rounded() roundedAmounts {
	return roundedAmounts{
		subtotal: r.Subtotal.Round(2),
		shipping: r.ShippingCost.Round(2),
		tax:      r.Tax.Round(2),
		total:    r.Total.Round(2),
	}
}

// Validate проверяет запрос целиком и перечисляет все ошибочные поля.
func (r OrderRequest) Validate() error {
	verr := &ValidationError{}

	c := r.Customer
	if strings.TrimSpace(c.Name) == "" {
		verr.Add("name", "is required")
	}
	if strings.TrimSpace(c.Email) == "" {
		verr.Add("email", "is required")
	}
	if strings.TrimSpace(c.Phone) == "" {
		verr.Add("phone", "is required")
	}
	if strings.TrimSpace(c.Address) == "" {
		verr.Add("address", "is required")
	}
	if strings.TrimSpace(c.City) == "" {
		verr.Add("city", "is required")
	}
	if strings.TrimSpace(c.Country) == "" {
		verr.Add("country", "is required")
	}

	if r.PaymentMethod == "" {
		verr.Add("paymentMethod", "is required")
	} else if !r.PaymentMethod.Enabled() {
		verr.Add("paymentMethod", fmt.Sprintf("%q is not available", r.PaymentMethod))
	}

	if len(r.Items) == 0 {
		verr.Add("items", ErrItemsRequired.Error())
	}
	sum := decimal.Zero
	for i, item := range r.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			verr.Add(field+".productId", "is required")
		}
		if strings.TrimSpace(item.Name) == "" {
			verr.Add(field+".name", "is required")
		}
		if item.Quantity < 1 {
			verr.Add(field+".quantity", ErrItemQtyInvalid.Error())
		}
		if item.UnitPrice.IsNegative() {
			verr.Add(field+".price", ErrItemPriceInvalid.Error())
		}
		sum = sum.Add(item.LineTotal())
	}

	money := []struct {
		field string
		value decimal.Decimal
	}{
		{"subtotal", r.Subtotal},
		{"shippingCost", r.ShippingCost},
		{"tax", r.Tax},
		{"total", r.Total},
	}
	negative := false
	for _, m := range money {
		if m.value.IsNegative() {
			verr.Add(m.field, "must be non-negative")
			negative = true
		}
	}

	// Суммы сверяются после округления до сотых: в таком виде заказ сохраняется.
	if !negative {
		amounts := r.rounded()
		if len(r.Items) > 0 && amounts.subtotal.Sub(sum.Round(2)).Abs().GreaterThan(TotalsTolerance) {
			verr.Add("subtotal", ErrSubtotalMismatch.Error())
		}
		expected := amounts.subtotal.Add(amounts.shipping).Add(amounts.tax)
		if amounts.total.Sub(expected).Abs().GreaterThan(TotalsTolerance) {
			verr.Add("total", ErrTotalMismatch.Error())
		}
	}

	return verr.OrNil()
}

// Order — сохранённый заказ.
type Order struct {
	ID            string          `json:"id"`
	Number        string          `json:"orderNumber"`
	Status        OrderStatus     `json:"status"`
	Customer      ShippingDetails `json:"customer"`
	Items         []OrderLine     `json:"items"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// NewOrderFromRequest собирает заказ в статусе pending. Суммы округляются до копеек.
func NewOrderFromRequest(id string, req OrderRequest, now time.Time) Order {
	items := make([]OrderLine, len(req.Items))
	copy(items, req.Items)
	amounts := req.rounded()
	return Order{
		ID:            id,
		Status:        OrderStatusPending,
		Customer:      req.Customer,
		Items:         items,
		PaymentMethod: req.PaymentMethod,
		Subtotal:      amounts.subtotal,
		ShippingCost:  amounts.shipping,
		Tax:           amounts.tax,
		Total:         amounts.total,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.Number == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrUnknownStatus)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if o.Subtotal.IsNegative() || o.ShippingCost.IsNegative() || o.Tax.IsNegative() || o.Total.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	expected := o.Subtotal.Add(o.ShippingCost).Add(o.Tax)
	if o.Total.Sub(expected).Abs().GreaterThan(TotalsTolerance) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Transition переводит заказ в новый статус, если переход разрешён.
func (o *Order) Transition(next OrderStatus, now time.Time) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, next)
	}
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrStatusTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

// ItemCount возвращает общее количество единиц товара в заказе.
func (o Order) ItemCount() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}
