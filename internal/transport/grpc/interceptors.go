package grpctransport

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Steank-29/tawakkol/internal/auth"
)

// AdminMethods — методы, доступные только роли admin.
var AdminMethods = map[string]bool{
	MethodGetOrder:     true,
	MethodListOrders:   true,
	MethodUpdateStatus: true,
}

// AuthInterceptor проверяет bearer-токен из metadata "authorization" для методов из protected.
func AuthInterceptor(authn auth.Authenticator, role string, protected map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !protected[info.FullMethod] {
			return handler(ctx, req)
		}
		if authn == nil {
			return nil, status.Error(codes.Unimplemented, "admin API is disabled")
		}
		p, err := authn.Authenticate(ctx, bearerFromMetadata(ctx))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, auth.ErrUnauthenticated.Error())
		}
		if p.Role != role {
			return nil, status.Error(codes.PermissionDenied, auth.ErrForbidden.Error())
		}
		return handler(auth.WithPrincipal(ctx, p), req)
	}
}

// LoggingInterceptor пишет строку на каждый вызов.
func LoggingInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = log.WithField("component", "grpc")
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		entry := logger.WithFields(log.Fields{
			"method":   info.FullMethod,
			"code":     code.String(),
			"duration": time.Since(start).String(),
		})
		if code == codes.Internal || code == codes.Unknown {
			entry.WithError(err).Error("grpc call failed")
		} else {
			entry.Debug("grpc call served")
		}
		return resp, err
	}
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}
