package grpctransport

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Steank-29/tawakkol/internal/api"
	"github.com/Steank-29/tawakkol/internal/checkout"
	"github.com/Steank-29/tawakkol/internal/domain"
)

// Client — gRPC-клиент сервиса заказов; реализует checkout.OrderClient.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

var _ checkout.OrderClient = (*Client)(nil)

// Dial подключается к target без TLS. token (может быть пустым) уходит в metadata authorization.
func Dial(target, token string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial order service: %w", err)
	}
	return &Client{conn: conn, token: token}, nil
}

// Close закрывает соединение.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) outgoing(ctx context.Context, pairs ...string) context.Context {
	if c.token != "" {
		pairs = append(pairs, "authorization", "Bearer "+c.token)
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// SubmitOrder вызывает CreateOrder и переводит gRPC-статусы в ошибки оформления.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest, idempotencyKey string) (checkout.SubmitResult, error) {
	var pairs []string
	if idempotencyKey != "" {
		pairs = append(pairs, IdempotencyKeyHeader, idempotencyKey)
	}

	var trailer metadata.MD
	resp := &CreateOrderResponse{}
	err := c.conn.Invoke(c.outgoing(ctx, pairs...), MethodCreateOrder, &CreateOrderRequest{Order: req}, resp, grpc.Trailer(&trailer))
	if err != nil {
		return checkout.SubmitResult{}, clientError(err, trailer)
	}
	return checkout.SubmitResult{OrderNumber: resp.OrderNumber, OrderID: resp.OrderID, EmailSent: resp.EmailSent}, nil
}

// OrderByNumber вызывает GetOrderByNumber.
func (c *Client) OrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	resp := &OrderResponse{}
	var trailer metadata.MD
	err := c.conn.Invoke(c.outgoing(ctx), MethodGetOrderByNumber, &GetOrderByNumberRequest{OrderNumber: number}, resp, grpc.Trailer(&trailer))
	if err != nil {
		return domain.Order{}, clientError(err, trailer)
	}
	return resp.Order, nil
}

// ListOrders вызывает административный ListOrders.
func (c *Client) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	resp := &ListOrdersResponse{}
	var trailer metadata.MD
	err := c.conn.Invoke(c.outgoing(ctx), MethodListOrders, &ListOrdersRequest{Status: filter.Status, Limit: filter.Limit}, resp, grpc.Trailer(&trailer))
	if err != nil {
		return nil, clientError(err, trailer)
	}
	return resp.Orders, nil
}

// UpdateStatus вызывает административный UpdateStatus.
func (c *Client) UpdateStatus(ctx context.Context, id string, next domain.OrderStatus, reason string) (domain.Order, error) {
	resp := &OrderResponse{}
	var trailer metadata.MD
	err := c.conn.Invoke(c.outgoing(ctx), MethodUpdateStatus, &UpdateStatusRequest{OrderID: id, Status: next, Reason: reason}, resp, grpc.Trailer(&trailer))
	if err != nil {
		return domain.Order{}, clientError(err, trailer)
	}
	return resp.Order, nil
}

func clientError(err error, trailer metadata.MD) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", domain.ErrOrderServiceUnreachable, err)
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", domain.ErrOrderServiceUnreachable, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", domain.ErrOrderServiceUnreachable, context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("%w: %w", domain.ErrOrderServiceUnreachable, context.Canceled)
	case codes.InvalidArgument:
		if values := trailer.Get(FieldErrorsTrailer); len(values) > 0 {
			var fields []domain.FieldError
			if json.Unmarshal([]byte(values[0]), &fields) == nil && len(fields) > 0 {
				return &domain.ValidationError{Fields: fields}
			}
		}
		return fmt.Errorf("%w: %s", domain.ErrOrderRejected, st.Message())
	case codes.NotFound:
		return domain.ErrOrderNotFound
	case codes.Aborted:
		switch st.Message() {
		case api.MsgRequestInFlight:
			return fmt.Errorf("%w: %s", domain.ErrIdempotencyKeyAlreadyExists, st.Message())
		case domain.ErrOrderVersionConflict.Error():
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("%w: %s", domain.ErrOrderRejected, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %w", domain.ErrOrderRejected, domain.ErrIdempotencyHashMismatch)
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", domain.ErrStatusTransition, st.Message())
	default:
		return fmt.Errorf("%w: %s", domain.ErrOrderRejected, st.Message())
	}
}
