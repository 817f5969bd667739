package grpctransport

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "tawakkol.v1.OrderService"

// Полные имена методов.
const (
	MethodCreateOrder      = "/" + ServiceName + "/CreateOrder"
	MethodGetOrder         = "/" + ServiceName + "/GetOrder"
	MethodGetOrderByNumber = "/" + ServiceName + "/GetOrderByNumber"
	MethodListOrders       = "/" + ServiceName + "/ListOrders"
	MethodUpdateStatus     = "/" + ServiceName + "/UpdateStatus"
)

// OrderServiceServer — серверная сторона сервиса заказов.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*CreateOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	GetOrderByNumber(context.Context, *GetOrderByNumberRequest) (*OrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	UpdateStatus(context.Context, *UpdateStatusRequest) (*OrderResponse, error)
}

// RegisterOrderServiceServer регистрирует реализацию на сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc описывает сервис для grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateOrder",
			Handler:    unaryHandler(MethodCreateOrder, OrderServiceServer.CreateOrder),
		},
		{
			MethodName: "GetOrder",
			Handler:    unaryHandler(MethodGetOrder, OrderServiceServer.GetOrder),
		},
		{
			MethodName: "GetOrderByNumber",
			Handler:    unaryHandler(MethodGetOrderByNumber, OrderServiceServer.GetOrderByNumber),
		},
		{
			MethodName: "ListOrders",
			Handler:    unaryHandler(MethodListOrders, OrderServiceServer.ListOrders),
		},
		{
			MethodName: "UpdateStatus",
			Handler:    unaryHandler(MethodUpdateStatus, OrderServiceServer.UpdateStatus),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tawakkol/v1/order_service",
}
