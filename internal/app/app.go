package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Steank-29/tawakkol/internal/auth"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/health"
	"github.com/Steank-29/tawakkol/internal/messaging/kafka"
	"github.com/Steank-29/tawakkol/internal/metrics"
	"github.com/Steank-29/tawakkol/internal/ordernumber"
	"github.com/Steank-29/tawakkol/internal/service/idempotency"
	"github.com/Steank-29/tawakkol/internal/service/order"
	"github.com/Steank-29/tawakkol/internal/service/outbox"
	grpctransport "github.com/Steank-29/tawakkol/internal/transport/grpc"
	httptransport "github.com/Steank-29/tawakkol/internal/transport/http"
	"github.com/Steank-29/tawakkol/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает HTTP API заказов, gRPC API, сервер метрик и фоновые воркеры
// и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		if cfg.Notifier == NotifierKafka {
			return fmt.Errorf("kafka notifier: %w", err)
		}
		logger.Warn("continuing without kafka, outbox events go to the log")
	}
	defer closeKafkaProducer(producer, logger)

	notifiers, err := initNotifier(cfg, producer, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := notifiers.close(); err != nil {
			logger.WithError(err).Warn("failed to close notifier")
		}
	}()

	authn, err := initAuthenticator(cfg.AdminTokens)
	if err != nil {
		return err
	}
	if authn == nil {
		logger.Info("admin tokens are not configured, admin API is disabled")
	}

	orders := order.NewService(deps.repo, ordernumber.New(),
		order.WithLogger(log.WithField("component", "order-service")),
		order.WithTimeline(deps.timelineRepo),
		order.WithOutbox(deps.outboxRepo),
		order.WithNotifier(notifiers.notifier),
		order.WithMetrics(metrics.NewOrderMetrics()),
		order.WithMaxNumberAttempts(cfg.MaxNumberAttempts),
		order.WithNotifyTimeout(cfg.NotifyTimeout),
	)
	guard := idempotency.NewGuard(deps.idempotencyRepo,
		idempotency.WithGuardLogger(log.WithField("component", "idempotency")),
		idempotency.WithTTL(cfg.IdempotencyTTL),
	)

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if notifiers.checker != nil {
		healthHandler.RegisterChecker("notifier", notifiers.checker)
	}

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	relayDone := startOrderEventRelay(workerCtx, cfg, deps.outboxRepo, producer)
	sweeperDone := startKeySweeper(workerCtx, cfg, guard)

	apiHandler := httptransport.NewHandler(orders,
		httptransport.WithLogger(log.WithField("component", "http")),
		httptransport.WithGuard(guard),
		httptransport.WithAuthenticator(authn),
		httptransport.WithMetrics(metrics.NewHTTPMetrics()),
		httptransport.WithRequestTimeout(cfg.RequestTimeout),
	)
	apiSrv := &http.Server{
		Handler:           apiHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, grpcHealth := grpctransport.NewGRPCServer(
		grpctransport.NewServer(orders, guard, log.WithField("component", "grpc")),
		grpctransport.ServerConfig{
			Authenticator: authn,
			Metrics:       registerGRPCMetrics(logger),
			Logger:        log.WithField("component", "grpc"),
		},
	)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		errCh <- apiSrv.Serve(httpLis)
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(apiSrv, logger)
	shutdownHTTP(metricsSrv, logger)
	shutdownWorkers(cancelWorkers, relayDone, logger)
	<-sweeperDone

	return runErr
}

func initAuthenticator(raw string) (auth.Authenticator, error) {
	if raw == "" {
		return nil, nil
	}
	tokens, err := auth.ParseTokens(raw)
	if err != nil {
		return nil, fmt.Errorf("admin tokens: %w", err)
	}
	return auth.NewStaticTokens(tokens), nil
}

// startOrderEventRelay публикует события заказов из outbox в Kafka, а без producer пишет их в лог.
func startOrderEventRelay(ctx context.Context, cfg Config, repo domain.OutboxRepository, producer *kafka.Producer) <-chan struct{} {
	workerLogger := log.WithField("component", "order-event-relay")

	var publisher domain.OutboxPublisher = outbox.NewLogPublisher(workerLogger)
	opts := []outbox.RelayOption{outbox.WithRelayLogger(workerLogger)}
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic)
		opts = append(opts, outbox.WithDeadLetter(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)))
	}

	relay := outbox.NewRelay(repo, publisher, outbox.RelayConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
		RetryDelay:   cfg.OutboxRetryDelay,
	}, opts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Run(ctx)
	}()
	return done
}

// startKeySweeper чистит ключи оформления заказа: истёкшие и зависшие в processing.
func startKeySweeper(ctx context.Context, cfg Config, guard *idempotency.Guard) <-chan struct{} {
	sweeper := guard.Sweeper(idempotency.OperationCreateOrder, idempotency.SweepConfig{
		Interval:   cfg.IdempotencyCleanupInterval,
		BatchSize:  cfg.IdempotencyCleanupBatchSize,
		StaleAfter: cfg.IdempotencyStaleAfter,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()
	return done
}

// registerGRPCMetrics регистрирует метрики gRPC-сервера, переиспользуя уже зарегистрированные.
func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// startMetricsServer запускает HTTP-сервер /metrics и health-проб.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// shutdownWorkers останавливает relay событий и ждёт завершения текущей порции.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("order event relay did not stop in time")
	}
}
