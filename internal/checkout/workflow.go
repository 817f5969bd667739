package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/cart"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/pricing"
)

// State — шаг оформления заказа.
type State string

const (
	StateCollectingShipping State = "collecting_shipping"
	StateSelectingPayment   State = "selecting_payment"
	StateSubmitting         State = "submitting"
	StateConfirmed          State = "confirmed"
)

const (
	// DefaultTimeout ограничивает один вызов сервиса заказов.
	DefaultTimeout = 15 * time.Second
	// DefaultCountry подставляется, если покупатель не указал страну.
	DefaultCountry = "Tunisia"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[0-9]{8}$`)
)

// SubmitResult — ответ сервиса заказов на успешную отправку.
type SubmitResult struct {
	OrderNumber string
	OrderID     string
	EmailSent   bool
}

// OrderClient отправляет заказ в сервис заказов. idempotencyKey одинаков для повторов одного запроса.
type OrderClient interface {
	SubmitOrder(ctx context.Context, req domain.OrderRequest, idempotencyKey string) (SubmitResult, error)
}

// Confirmation — то, что показывается после успешного оформления. Корзина к этому моменту уже пуста.
type Confirmation struct {
	OrderNumber   string
	OrderID       string
	EmailSent     bool
	Shipping      domain.ShippingDetails
	PaymentMethod domain.PaymentMethod
	Lines         []domain.CartLine
	Totals        pricing.Totals
}

// Option настраивает Workflow.
type Option func(*Workflow)

// WithTimeout задаёт таймаут отправки заказа.
func WithTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithDefaultCountry задаёт страну по умолчанию.
func WithDefaultCountry(country string) Option {
	return func(w *Workflow) {
		if strings.TrimSpace(country) != "" {
			w.defaultCountry = strings.TrimSpace(country)
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithKeyGenerator подменяет генератор ключей идемпотентности.
func WithKeyGenerator(fn func() string) Option {
	return func(w *Workflow) {
		if fn != nil {
			w.newKey = fn
		}
	}
}

// Workflow — пошаговое оформление заказа для одной сессии покупателя.
type Workflow struct {
	mu sync.Mutex

	cart   *cart.Store
	client OrderClient
	logger *log.Entry

	timeout        time.Duration
	defaultCountry string
	newKey         func() string

	state        State
	shipping     domain.ShippingDetails
	payment      domain.PaymentMethod
	confirmation *Confirmation

	pendingKey  string
	pendingHash string
}

// New создаёт Workflow в состоянии collecting_shipping.
func New(store *cart.Store, client OrderClient, opts ...Option) *Workflow {
	w := &Workflow{
		cart:           store,
		client:         client,
		logger:         log.WithField("component", "checkout"),
		timeout:        DefaultTimeout,
		defaultCountry: DefaultCountry,
		newKey:         uuid.NewString,
		state:          StateCollectingShipping,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State возвращает текущий шаг.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Shipping возвращает принятые данные доставки.
func (w *Workflow) Shipping() domain.ShippingDetails {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shipping
}

// PaymentMethod возвращает выбранный способ оплаты.
func (w *Workflow) PaymentMethod() domain.PaymentMethod {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.payment
}

// Confirmation возвращает подтверждение, если заказ оформлен.
func (w *Workflow) Confirmation() (Confirmation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.confirmation == nil {
		return Confirmation{}, false
	}
	c := *w.confirmation
	c.Lines = append([]domain.CartLine(nil), c.Lines...)
	return c, true
}

// ValidateShipping проверяет форму доставки и возвращает по одной ошибке на поле.
func ValidateShipping(d domain.ShippingDetails) error {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(d.Name) == "" {
		verr.Add("name", "full name is required")
	}
	if !emailPattern.MatchString(strings.TrimSpace(d.Email)) {
		verr.Add("email", "enter a valid email address")
	}
	if !phonePattern.MatchString(strings.ReplaceAll(d.Phone, " ", "")) {
		verr.Add("phone", "phone number must have 8 digits")
	}
	if strings.TrimSpace(d.Address) == "" {
		verr.Add("address", "address is required")
	}
	if strings.TrimSpace(d.City) == "" {
		verr.Add("city", "city is required")
	}
	return verr.OrNil()
}

// SubmitShipping принимает форму доставки и переходит к выбору оплаты.
// При ошибке валидации состояние не меняется.
func (w *Workflow) SubmitShipping(details domain.ShippingDetails) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateCollectingShipping {
		return ErrInvalidState
	}
	if err := ValidateShipping(details); err != nil {
		return err
	}

	w.shipping = normalizeShipping(details, w.defaultCountry)
	if w.payment == "" {
		w.payment = domain.PaymentCashOnDelivery
	}
	w.state = StateSelectingPayment
	return nil
}

// Back возвращает к форме доставки; введённые данные сохраняются.
func (w *Workflow) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateSelectingPayment {
		return ErrInvalidState
	}
	w.state = StateCollectingShipping
	return nil
}

// SelectPayment выбирает способ оплаты. Отключённые способы отклоняются.
func (w *Workflow) SelectPayment(method domain.PaymentMethod) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateSelectingPayment {
		return ErrInvalidState
	}
	switch method {
	case domain.PaymentCashOnDelivery:
		w.payment = method
		return nil
	case domain.PaymentCard:
		return ErrPaymentMethodDisabled
	default:
		return domain.NewValidationError("paymentMethod", "unknown payment method")
	}
}

// PlaceOrder отправляет снимок корзины в сервис заказов.
//
// Успех: подтверждение сохраняется, корзина очищается, состояние confirmed.
// Неудача: корзина не трогается, состояние selecting_payment, ошибка *SubmissionError.
// Повтор того же запроса идёт с тем же ключом идемпотентности.
func (w *Workflow) PlaceOrder(ctx context.Context) (Confirmation, error) {
	w.mu.Lock()
	switch w.state {
	case StateSelectingPayment:
	case StateSubmitting:
		w.mu.Unlock()
		return Confirmation{}, ErrSubmissionInProgress
	default:
		w.mu.Unlock()
		return Confirmation{}, ErrInvalidState
	}
	if !w.payment.Enabled() {
		w.mu.Unlock()
		return Confirmation{}, ErrPaymentMethodDisabled
	}

	snap := w.cart.Snapshot()
	if snap.Empty() {
		w.mu.Unlock()
		return Confirmation{}, domain.NewValidationError("items", domain.ErrItemsRequired.Error())
	}

	totals := snap.Totals.Rounded()
	req := domain.OrderRequest{
		Customer:      w.shipping,
		Items:         snap.OrderLines(),
		PaymentMethod: w.payment,
		Subtotal:      totals.Subtotal,
		ShippingCost:  totals.Shipping,
		Tax:           totals.Tax,
		Total:         totals.Total,
	}
	key := w.idempotencyKeyLocked(req)
	w.state = StateSubmitting
	w.mu.Unlock()

	logger := w.logger.WithFields(log.Fields{
		"idempotency_key": key,
		"items":           snap.ItemCount(),
		"total":           totals.Total.StringFixed(2),
	})

	sctx, cancel := context.WithTimeout(ctx, w.timeout)
	res, err := w.client.SubmitOrder(sctx, req, key)
	cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.state = StateSelectingPayment
		serr := classify(err)
		logger.WithError(err).WithField("kind", serr.Kind).Warn("order submission failed")
		return Confirmation{}, serr
	}

	conf := Confirmation{
		OrderNumber:   res.OrderNumber,
		OrderID:       res.OrderID,
		EmailSent:     res.EmailSent,
		Shipping:      w.shipping,
		PaymentMethod: w.payment,
		Lines:         snap.Lines,
		Totals:        totals,
	}
	w.confirmation = &conf
	w.state = StateConfirmed
	w.pendingKey, w.pendingHash = "", ""

	if err := w.cart.Clear(ctx); err != nil {
		logger.WithError(err).Warn("order placed but cart snapshot was not cleared")
	}
	logger.WithField("order_number", res.OrderNumber).Info("order placed")

	out := conf
	out.Lines = append([]domain.CartLine(nil), conf.Lines...)
	return out, nil
}

// Reset начинает новое оформление после подтверждения. Данные доставки сохраняются для удобства.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateSubmitting {
		return ErrSubmissionInProgress
	}
	w.state = StateCollectingShipping
	w.confirmation = nil
	w.pendingKey, w.pendingHash = "", ""
	return nil
}

// idempotencyKeyLocked возвращает прежний ключ, если запрос не изменился с прошлой неудачной попытки.
func (w *Workflow) idempotencyKeyLocked(req domain.OrderRequest) string {
	data, err := json.Marshal(req)
	if err != nil {
		return w.newKey()
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if hash != w.pendingHash || w.pendingKey == "" {
		w.pendingKey = w.newKey()
		w.pendingHash = hash
	}
	return w.pendingKey
}

func normalizeShipping(d domain.ShippingDetails, defaultCountry string) domain.ShippingDetails {
	d.Name = strings.TrimSpace(d.Name)
	d.Email = strings.TrimSpace(d.Email)
	d.Phone = strings.ReplaceAll(strings.TrimSpace(d.Phone), " ", "")
	d.Address = strings.TrimSpace(d.Address)
	d.City = strings.TrimSpace(d.City)
	d.PostalCode = strings.TrimSpace(d.PostalCode)
	d.Country = strings.TrimSpace(d.Country)
	if d.Country == "" {
		d.Country = defaultCountry
	}
	d.Notes = strings.TrimSpace(d.Notes)
	d.PreferredSize = strings.TrimSpace(d.PreferredSize)
	return d
}
