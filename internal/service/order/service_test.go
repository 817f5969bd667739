package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/metrics"
	"github.com/Steank-29/tawakkol/internal/ordernumber"
	"github.com/Steank-29/tawakkol/internal/service/order"
	"github.com/Steank-29/tawakkol/internal/storage/memory"
)

type scriptedNumbers struct {
	mu      sync.Mutex
	numbers []string
	calls   int
}

func (g *scriptedNumbers) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.numbers[g.calls%len(g.numbers)]
	g.calls++
	return n
}

type recordingNotifier struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (n *recordingNotifier) SendOrderConfirmation(_ context.Context, order domain.Order, to string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, order.Number+"->"+to)
	return nil
}

type blockingNotifier struct{}

func (blockingNotifier) SendOrderConfirmation(ctx context.Context, _ domain.Order, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func validRequest() domain.OrderRequest {
	return domain.OrderRequest{
		Customer: domain.ShippingDetails{
			Name: "Amira", Email: "amira@example.com", Phone: "22345678",
			Address: "12 Rue de Marseille", City: "Tunis", Country: "Tunisia",
		},
		Items: []domain.OrderLine{
			{ProductID: "P1", Name: "Linen shirt", UnitPrice: decimal.NewFromInt(50), Quantity: 2, Size: "M", VariantKey: "P1-M-nocolor"},
		},
		PaymentMethod: domain.PaymentCashOnDelivery,
		Subtotal:      decimal.NewFromInt(100),
		ShippingCost:  decimal.NewFromInt(7),
		Tax:           decimal.Zero,
		Total:         decimal.NewFromInt(107),
	}
}

type fixture struct {
	svc      *order.Service
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	notifier *recordingNotifier
}

func newFixture(t *testing.T, numbers domain.OrderNumberGenerator, opts ...order.Option) fixture {
	t.Helper()
	f := fixture{
		repo:     memory.NewOrderRepository(),
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(),
		notifier: &recordingNotifier{},
	}
	base := []order.Option{
		order.WithTimeline(f.timeline),
		order.WithOutbox(f.outbox),
		order.WithNotifier(f.notifier),
		order.WithMetrics(metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())),
	}
	f.svc = order.NewService(f.repo, numbers, append(base, opts...)...)
	return f
}

func TestCreateOrder_PersistsPendingOrderAndNotifies(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)
	require.True(t, ordernumber.Valid(res.OrderNumber), res.OrderNumber)
	require.True(t, res.EmailSent)
	require.NotEmpty(t, res.OrderID)

	stored, err := f.repo.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.True(t, stored.Total.Equal(decimal.NewFromInt(107)))
	assert.Equal(t, []string{res.OrderNumber + "->amira@example.com"}, f.notifier.sent)

	events, err := f.svc.Timeline(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].Type)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventTypeOrderCreated, pending[0].EventType)
	var payload domain.OrderEvent
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, res.OrderNumber, payload.OrderNumber)
	assert.Equal(t, 2, payload.ItemCount)
}

func TestCreateOrder_TotalMismatchIsRejected(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	req := validRequest()
	req.Total = decimal.NewFromInt(110)

	_, err := f.svc.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrValidation)
	verr, ok := domain.AsValidation(err)
	require.True(t, ok)
	assert.True(t, verr.Has("total"))

	orders, err := f.repo.List(context.Background(), domain.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.notifier.sent)
}

func TestCreateOrder_EmptyItemsIsRejected(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	req := validRequest()
	req.Items = nil
	req.Subtotal = decimal.Zero
	req.Total = decimal.NewFromInt(7)

	_, err := f.svc.CreateOrder(context.Background(), req)
	verr, ok := domain.AsValidation(err)
	require.True(t, ok, "got %v", err)
	assert.True(t, verr.Has("items"))

	orders, err := f.repo.List(context.Background(), domain.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.outbox.AllPending())
}

func TestCreateOrder_HalfCentAmountsAreValidationErrors(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	req := validRequest()
	req.Items[0].UnitPrice = decimal.RequireFromString("10.005")
	req.Items[0].Quantity = 1
	req.Subtotal = decimal.RequireFromString("10.005")
	req.ShippingCost = decimal.RequireFromString("7.005")
	req.Tax = decimal.RequireFromString("0.005")
	req.Total = decimal.RequireFromString("17.005")

	_, err := f.svc.CreateOrder(context.Background(), req)
	verr, ok := domain.AsValidation(err)
	require.True(t, ok, "got %v", err)
	assert.True(t, verr.Has("total"))

	req.Total = decimal.RequireFromString("17.03")
	res, err := f.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	stored, err := f.repo.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "17.03", stored.Total.StringFixed(2))
}

func TestCreateOrder_EnumeratesAllInvalidFields(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	req := validRequest()
	req.Customer.Email = ""
	req.Items[0].Quantity = 0
	req.PaymentMethod = domain.PaymentCard

	_, err := f.svc.CreateOrder(context.Background(), req)
	verr, ok := domain.AsValidation(err)
	require.True(t, ok)
	assert.True(t, verr.Has("email"))
	assert.True(t, verr.Has("items[0].quantity"))
	assert.True(t, verr.Has("paymentMethod"))
}

func TestCreateOrder_RetriesOnNumberCollision(t *testing.T) {
	numbers := &scriptedNumbers{numbers: []string{"ORD2503141234", "ORD2503141234", "ORD2503141234", "ORD2503145678"}}
	f := newFixture(t, numbers)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, "ORD2503141234", first.OrderNumber)

	second, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "ORD2503145678", second.OrderNumber)
	assert.Equal(t, 4, numbers.calls)

	orders, err := f.repo.List(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestCreateOrder_GivesUpAfterMaxAttempts(t *testing.T) {
	numbers := &scriptedNumbers{numbers: []string{"ORD2503141234"}}
	f := newFixture(t, numbers, order.WithMaxNumberAttempts(3))
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(ctx, validRequest())
	require.ErrorIs(t, err, domain.ErrOrderNumberExhausted)
	assert.Equal(t, "could not complete order", err.Error())
	assert.Equal(t, 4, numbers.calls)
}

func TestCreateOrder_ConcurrentSubmissionsGetDistinctNumbers(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CreateOrder(ctx, validRequest())
			if !assert.NoError(t, err) {
				return
			}
			results <- res.OrderNumber
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for number := range results {
		assert.False(t, seen[number], "duplicate number %s", number)
		seen[number] = true
	}
	assert.Len(t, seen, workers)
}

func TestCreateOrder_NotificationFailureOnlyClearsFlag(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	f.notifier.err = errors.New("smtp: connection refused")
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)
	assert.False(t, res.EmailSent)

	_, err = f.repo.Get(ctx, res.OrderID)
	require.NoError(t, err)

	events, err := f.svc.Timeline(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TimelineNotification, events[1].Type)
}

func TestCreateOrder_NotificationTimeout(t *testing.T) {
	svc := order.NewService(
		memory.NewOrderRepository(),
		ordernumber.New(),
		order.WithNotifier(blockingNotifier{}),
		order.WithNotifyTimeout(20*time.Millisecond),
	)

	started := time.Now()
	res, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.False(t, res.EmailSent)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestCreateOrder_WithoutNotifierReportsEmailNotSent(t *testing.T) {
	svc := order.NewService(memory.NewOrderRepository(), ordernumber.New())
	res, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)
	assert.False(t, res.EmailSent)
}

func TestGetOrderByNumber(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	got, err := f.svc.GetOrderByNumber(ctx, " "+res.OrderNumber+" ")
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, got.ID)

	_, err = f.svc.GetOrderByNumber(ctx, "ORD0000000000")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = f.svc.GetOrderByNumber(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdateStatus_AppliesAllowedTransitions(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	for _, next := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	} {
		updated, err := f.svc.UpdateStatus(ctx, res.OrderID, next, "")
		require.NoError(t, err, "transition to %s", next)
		assert.Equal(t, next, updated.Status)
	}

	stored, err := f.repo.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, stored.Status)
	assert.Equal(t, int64(5), stored.Version)

	events, err := f.svc.Timeline(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Len(t, events, 5)

	var statusEvents int
	for _, msg := range f.outbox.AllPending() {
		if msg.EventType == domain.EventTypeStatusChanged {
			statusEvents++
		}
	}
	assert.Equal(t, 4, statusEvents)
}

func TestUpdateStatus_RejectsForbiddenTransitions(t *testing.T) {
	f := newFixture(t, ordernumber.New())
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, res.OrderID, domain.OrderStatusShipped, "")
	require.ErrorIs(t, err, domain.ErrStatusTransition)

	_, err = f.svc.UpdateStatus(ctx, res.OrderID, domain.OrderStatus("lost"), "")
	require.ErrorIs(t, err, domain.ErrUnknownStatus)

	_, err = f.svc.UpdateStatus(ctx, res.OrderID, domain.OrderStatusCancelled, "customer called")
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, res.OrderID, domain.OrderStatusConfirmed, "")
	require.ErrorIs(t, err, domain.ErrStatusTransition)

	_, err = f.svc.UpdateStatus(ctx, "missing", domain.OrderStatusConfirmed, "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListOrders_FiltersAndLimits(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	}
	f := newFixture(t, ordernumber.New(), order.WithClock(clock))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := f.svc.CreateOrder(ctx, validRequest())
		require.NoError(t, err)
		ids = append(ids, res.OrderID)
	}
	_, err := f.svc.UpdateStatus(ctx, ids[0], domain.OrderStatusConfirmed, "")
	require.NoError(t, err)

	all, err := f.svc.ListOrders(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)

	confirmed, err := f.svc.ListOrders(ctx, domain.OrderFilter{Status: domain.OrderStatusConfirmed})
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, ids[0], confirmed[0].ID)

	limited, err := f.svc.ListOrders(ctx, domain.OrderFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = f.svc.ListOrders(ctx, domain.OrderFilter{Status: "weird"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

type failingRepo struct {
	domain.OrderRepository
}

func (failingRepo) Create(context.Context, domain.Order) error {
	return fmt.Errorf("connection reset")
}

func TestCreateOrder_StorageFailureIsNotRetried(t *testing.T) {
	numbers := &scriptedNumbers{numbers: []string{"ORD2503141234"}}
	svc := order.NewService(failingRepo{memory.NewOrderRepository()}, numbers)

	_, err := svc.CreateOrder(context.Background(), validRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrOrderNumberExhausted)
	assert.Equal(t, 1, numbers.calls)
}
