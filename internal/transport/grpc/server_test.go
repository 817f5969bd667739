package grpctransport_test

import (
	"context"
	"net"
	"testing"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Steank-29/tawakkol/internal/api"
	"github.com/Steank-29/tawakkol/internal/auth"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/ordernumber"
	"github.com/Steank-29/tawakkol/internal/service/idempotency"
	"github.com/Steank-29/tawakkol/internal/service/order"
	"github.com/Steank-29/tawakkol/internal/storage/memory"
	grpctransport "github.com/Steank-29/tawakkol/internal/transport/grpc"
)

const (
	bufSize    = 1024 * 1024
	adminToken = "admin-secret"
)

type fixedNumber string

func (n fixedNumber) Generate() string { return string(n) }

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "grpc-test")
}

type harness struct {
	repo   domain.OrderRepository
	dialer func(context.Context, string) (net.Conn, error)
}

func (h harness) client(t *testing.T, token string) *grpctransport.Client {
	t.Helper()
	c, err := grpctransport.Dial("passthrough:///bufnet", token, grpc.WithContextDialer(h.dialer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newHarness(t *testing.T, numbers domain.OrderNumberGenerator, opts ...order.Option) harness {
	t.Helper()
	listener := bufconn.Listen(bufSize)
	repo := memory.NewOrderRepository()
	opts = append([]order.Option{order.WithTimeline(memory.NewTimelineRepository())}, opts...)
	svc := order.NewService(repo, numbers, opts...)

	impl := grpctransport.NewServer(svc, idempotency.NewGuard(memory.NewIdempotencyRepository()), loggerForTests())
	server, _ := grpctransport.NewGRPCServer(impl, grpctransport.ServerConfig{
		Authenticator: auth.NewStaticTokens(map[string]auth.Principal{
			adminToken:    {Subject: "alice", Role: auth.RoleAdmin},
			"staff-token": {Subject: "bob", Role: auth.RoleStaff},
		}),
		Metrics: promgrpc.NewServerMetrics(),
		Logger:  loggerForTests(),
	})

	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(server.Stop)

	return harness{
		repo: repo,
		dialer: func(context.Context, string) (net.Conn, error) {
			return listener.Dial()
		},
	}
}

func validRequest(total int64) domain.OrderRequest {
	return domain.OrderRequest{
		Customer: domain.ShippingDetails{
			Name: "Amira", Email: "amira@example.com", Phone: "22345678",
			Address: "12 Rue de Marseille", City: "Tunis", Country: "Tunisia",
		},
		Items: []domain.OrderLine{{
			ProductID: "P1", Name: "Hoodie", UnitPrice: decimal.NewFromInt(50), Quantity: 2, Size: "M", VariantKey: "P1-M-nocolor",
		}},
		PaymentMethod: domain.PaymentCashOnDelivery,
		Subtotal:      decimal.NewFromInt(100),
		ShippingCost:  decimal.NewFromInt(7),
		Tax:           decimal.Zero,
		Total:         decimal.NewFromInt(total),
	}
}

func TestCreateOrder_AndLookup(t *testing.T) {
	h := newHarness(t, ordernumber.New())
	c := h.client(t, "")
	ctx := context.Background()

	res, err := c.SubmitOrder(ctx, validRequest(107), "")
	require.NoError(t, err)
	require.True(t, ordernumber.Valid(res.OrderNumber))

	got, err := c.OrderByNumber(ctx, res.OrderNumber)
	require.NoError(t, err)
	require.Equal(t, res.OrderID, got.ID)
	require.True(t, got.Total.Equal(decimal.NewFromInt(107)))

	_, err = c.OrderByNumber(ctx, "ORD0000000000")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCreateOrder_ValidationFieldsInTrailer(t *testing.T) {
	h := newHarness(t, ordernumber.New())
	c := h.client(t, "")

	for i := 0; i < 2; i++ {
		_, err := c.SubmitOrder(context.Background(), validRequest(150), "bad-key")
		verr, ok := domain.AsValidation(err)
		require.True(t, ok, "attempt %d: %v", i, err)
		require.True(t, verr.Has("total"))
	}
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	h := newHarness(t, ordernumber.New())
	c := h.client(t, "")
	ctx := context.Background()

	first, err := c.SubmitOrder(ctx, validRequest(107), "replay-1")
	require.NoError(t, err)
	second, err := c.SubmitOrder(ctx, validRequest(107), "replay-1")
	require.NoError(t, err)
	require.Equal(t, first, second)

	orders, err := h.repo.List(ctx, domain.OrderFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	req := validRequest(107)
	req.Items[0].Quantity = 3
	req.Subtotal = decimal.NewFromInt(150)
	req.Total = decimal.NewFromInt(157)
	_, err = c.SubmitOrder(ctx, req, "replay-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestCreateOrder_ExhaustedIsInternal(t *testing.T) {
	h := newHarness(t, fixedNumber("ORD2601011234"), order.WithMaxNumberAttempts(2))
	c := h.client(t, "")
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, validRequest(107), "")
	require.NoError(t, err)

	_, err = c.SubmitOrder(ctx, validRequest(107), "exhausted-1")
	require.ErrorIs(t, err, domain.ErrOrderRejected)
	require.Contains(t, err.Error(), api.MsgCouldNotComplete)
}

func TestAdminMethods(t *testing.T) {
	h := newHarness(t, ordernumber.New())
	ctx := context.Background()

	created, err := h.client(t, "").SubmitOrder(ctx, validRequest(107), "")
	require.NoError(t, err)

	_, err = h.client(t, "").ListOrders(ctx, domain.OrderFilter{})
	require.ErrorIs(t, err, domain.ErrOrderRejected)

	admin := h.client(t, adminToken)
	updated, err := admin.UpdateStatus(ctx, created.OrderID, domain.OrderStatusConfirmed, "checked")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, updated.Status)

	_, err = admin.UpdateStatus(ctx, created.OrderID, domain.OrderStatusDelivered, "")
	require.ErrorIs(t, err, domain.ErrStatusTransition)

	orders, err := admin.ListOrders(ctx, domain.OrderFilter{Status: domain.OrderStatusConfirmed})
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestAuthCodes(t *testing.T) {
	h := newHarness(t, ordernumber.New())
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(h.dialer),
		grpc.WithTransportCredentials(insecureCreds()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpctransport.CodecName)),
	)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Invoke(context.Background(), grpctransport.MethodListOrders, &grpctransport.ListOrdersRequest{}, &grpctransport.ListOrdersResponse{})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	staff := h.client(t, "staff-token")
	_, err = staff.ListOrders(context.Background(), domain.OrderFilter{})
	require.Error(t, err)

	healthConn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(h.dialer),
		grpc.WithTransportCredentials(insecureCreds()),
	)
	require.NoError(t, err)
	defer healthConn.Close()

	resp, err := healthpb.NewHealthClient(healthConn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
