// Package pricing считает итоги корзины. Все функции чистые, округление только на выходе.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/Steank-29/tawakkol/internal/domain"
)

// Tolerance — допустимое расхождение total и суммы слагаемых.
var Tolerance = domain.TotalsTolerance

// Policy — настройки расчёта: фиксированная доставка и ставка налога.
type Policy struct {
	FlatShippingFee decimal.Decimal
	TaxRate         decimal.Decimal
	// FreeShippingThreshold используется только как подсказка в интерфейсе; ComputeTotals его не применяет.
	FreeShippingThreshold decimal.Decimal
}

// DefaultPolicy возвращает политику магазина по умолчанию: доставка 7, налог 0.
func DefaultPolicy() Policy {
	return Policy{
		FlatShippingFee:       decimal.NewFromInt(7),
		TaxRate:               decimal.Zero,
		FreeShippingThreshold: decimal.Zero,
	}
}

// Validate проверяет, что политика не даёт отрицательных сумм.
func (p Policy) Validate() error {
	verr := &domain.ValidationError{}
	if p.FlatShippingFee.IsNegative() {
		verr.Add("flatShippingFee", "must be non-negative")
	}
	if p.TaxRate.IsNegative() {
		verr.Add("taxRate", "must be non-negative")
	}
	if p.FreeShippingThreshold.IsNegative() {
		verr.Add("freeShippingThreshold", "must be non-negative")
	}
	return verr.OrNil()
}

// FreeShippingRemaining возвращает, сколько осталось добрать до бесплатной доставки.
// ok=false, если порог не задан.
func (p Policy) FreeShippingRemaining(subtotal decimal.Decimal) (remaining decimal.Decimal, ok bool) {
	if !p.FreeShippingThreshold.IsPositive() {
		return decimal.Zero, false
	}
	remaining = p.FreeShippingThreshold.Sub(subtotal)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return remaining, true
}

// Totals — производные суммы корзины. Никогда не хранятся отдельно от строк.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shippingCost"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Rounded округляет все суммы до двух знаков. Total пересчитывается из округлённых слагаемых,
// чтобы равенство total = subtotal + shipping + tax выполнялось точно.
func (t Totals) Rounded() Totals {
	r := Totals{
		Subtotal: t.Subtotal.Round(2),
		Shipping: t.Shipping.Round(2),
		Tax:      t.Tax.Round(2),
	}
	r.Total = r.Subtotal.Add(r.Shipping).Add(r.Tax)
	return r
}

// Equal сравнивает суммы по значению.
func (t Totals) Equal(other Totals) bool {
	return t.Subtotal.Equal(other.Subtotal) &&
		t.Shipping.Equal(other.Shipping) &&
		t.Tax.Equal(other.Tax) &&
		t.Total.Equal(other.Total)
}

// ComputeTotals считает subtotal, доставку, налог и total по строкам корзины.
func ComputeTotals(lines []domain.CartLine, policy Policy) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal())
	}
	tax := subtotal.Mul(policy.TaxRate)
	return Totals{
		Subtotal: subtotal,
		Shipping: policy.FlatShippingFee,
		Tax:      tax,
		Total:    subtotal.Add(policy.FlatShippingFee).Add(tax),
	}
}

// VerifyTotals сообщает, совпадает ли total с суммой слагаемых в пределах Tolerance.
func VerifyTotals(subtotal, shipping, tax, total decimal.Decimal) bool {
	return total.Sub(subtotal.Add(shipping).Add(tax)).Abs().LessThanOrEqual(Tolerance)
}
