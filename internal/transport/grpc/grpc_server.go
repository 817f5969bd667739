package grpctransport

import (
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Steank-29/tawakkol/internal/auth"
)

// ServerConfig — зависимости gRPC-сервера.
type ServerConfig struct {
	Authenticator auth.Authenticator
	Metrics       *promgrpc.ServerMetrics
	Logger        *log.Entry
}

// NewGRPCServer собирает grpc.Server с сервисом заказов и стандартным health-сервисом.
func NewGRPCServer(impl OrderServiceServer, cfg ServerConfig) (*grpc.Server, *health.Server) {
	interceptors := make([]grpc.UnaryServerInterceptor, 0, 3)
	if cfg.Metrics != nil {
		interceptors = append(interceptors, cfg.Metrics.UnaryServerInterceptor())
	}
	interceptors = append(interceptors,
		LoggingInterceptor(cfg.Logger),
		AuthInterceptor(cfg.Authenticator, auth.RoleAdmin, AdminMethods),
	)

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	RegisterOrderServiceServer(server, impl)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	if cfg.Metrics != nil {
		cfg.Metrics.InitializeMetrics(server)
	}
	return server, healthServer
}
