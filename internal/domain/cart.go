package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// NoSize подставляется в variant key, если размер не выбран.
	NoSize = "nosize"
	// NoColor подставляется в variant key, если цвет не выбран.
	NoColor = "nocolor"
)

// Product — минимальная запись каталога, нужная корзине.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageRef string          `json:"imageRef,omitempty"`
}

// Validate проверяет поля, без которых товар нельзя положить в корзину.
func (p Product) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(p.ID) == "" {
		verr.Add("productId", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		verr.Add("name", "is required")
	}
	if p.Price.IsNegative() {
		verr.Add("price", "must be non-negative")
	}
	return verr.OrNil()
}

// CartLine — одна конфигурация товара в корзине.
type CartLine struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Size       string          `json:"size,omitempty"`
	Color      string          `json:"color,omitempty"`
	ImageRef   string          `json:"image,omitempty"`
	VariantKey string          `json:"variantKey"`
}

// LineTotal возвращает цену позиции без округления.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Validate проверяет строку, пришедшую из внешнего источника (например, из сохранённого снимка).
func (l CartLine) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(l.ProductID) == "" {
		verr.Add("productId", "is required")
	}
	if strings.TrimSpace(l.Name) == "" {
		verr.Add("name", "is required")
	}
	if l.UnitPrice.IsNegative() {
		verr.Add("price", "must be non-negative")
	}
	if l.Quantity < 1 {
		verr.Add("quantity", "must be at least 1")
	}
	if l.VariantKey != VariantKey(l.ProductID, l.Size, l.Color) {
		verr.Add("variantKey", "does not match product, size and color")
	}
	return verr.OrNil()
}

// VariantKey строит ключ уникальности строки корзины.
func VariantKey(productID, size, color string) string {
	size = strings.TrimSpace(size)
	if size == "" {
		size = NoSize
	}
	color = strings.TrimSpace(color)
	if color == "" {
		color = NoColor
	}
	return strings.TrimSpace(productID) + "-" + size + "-" + color
}
