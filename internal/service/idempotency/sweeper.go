package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
)

// OperationCreateOrder — оформление заказа. Входит в отпечаток запроса и в метки метрик чистки.
const OperationCreateOrder = "create_order"

const (
	sweepReasonExpired = "expired"
	sweepReasonStale   = "stale"
)

var (
	checkoutKeysSweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tawakkol_checkout_keys_swept_total",
		Help: "Checkout idempotency keys removed by the sweeper, by operation and reason.",
	}, []string{"operation", "reason"})
	checkoutKeySweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tawakkol_checkout_key_sweeps_total",
		Help: "Checkout key sweeps, by operation and result.",
	}, []string{"operation", "result"})
	checkoutKeySweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tawakkol_checkout_key_sweep_duration_seconds",
		Help:    "Duration of one checkout key sweep.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// SweepConfig — расписание и объём чистки ключей.
type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
	// StaleAfter — возраст ключа в processing, после которого он освобождается. 0 отключает.
	StaleAfter time.Duration
}

// SweepReport — итог одного прохода.
type SweepReport struct {
	Expired int
	Stale   int
}

// Sweeper чистит ключи оформления заказа, зарезервированные Guard.
//
// Истёкшие по TTL ключи удаляются. Ключ, застрявший в processing (сервер упал
// посреди оформления), освобождается после StaleAfter: иначе покупатель получал бы
// 409 на каждый повтор до конца TTL.
type Sweeper struct {
	repo      domain.IdempotencyRepository
	operation string
	cfg       SweepConfig
	logger    *log.Entry
	now       func() time.Time
}

// Sweeper создаёт чистильщик ключей этого Guard. Часы и логгер берутся у Guard.
func (g *Guard) Sweeper(operation string, cfg SweepConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Sweeper{
		repo:      g.repo,
		operation: operation,
		cfg:       cfg,
		logger:    g.logger.WithFields(log.Fields{"worker": "key-sweeper", "operation": operation}),
		now:       g.now,
	}
}

// Run чистит ключи сразу и затем каждые Interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("checkout key sweeper is disabled: no idempotency store")
		return
	}

	s.runOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	started := time.Now()
	report, err := s.Sweep(ctx)
	checkoutKeySweepDuration.WithLabelValues(s.operation).Observe(time.Since(started).Seconds())

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		checkoutKeySweepsTotal.WithLabelValues(s.operation, "error").Inc()
		s.logger.WithError(err).Warn("checkout key sweep failed")
		return
	}
	checkoutKeySweepsTotal.WithLabelValues(s.operation, "ok").Inc()

	if report.Stale > 0 {
		s.logger.WithField("released", report.Stale).Warn("released checkout keys stuck in processing")
	}
	if report.Expired > 0 {
		s.logger.WithField("deleted", report.Expired).Info("expired checkout keys deleted")
	}
}

// Sweep делает один проход: сначала истёкшие ключи, затем зависшие.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now().UTC()

	expired, err := s.drain(ctx, sweepReasonExpired, func(ctx context.Context) (int, error) {
		return s.repo.DeleteExpired(ctx, now, s.cfg.BatchSize)
	})
	report.Expired = expired
	if err != nil {
		return report, err
	}

	if s.cfg.StaleAfter <= 0 {
		return report, nil
	}
	cutoff := now.Add(-s.cfg.StaleAfter)
	stale, err := s.drain(ctx, sweepReasonStale, func(ctx context.Context) (int, error) {
		return s.repo.ReleaseStale(ctx, cutoff, s.cfg.BatchSize)
	})
	report.Stale = stale
	return report, err
}

// drain повторяет удаление порциями, пока порция не окажется неполной.
func (s *Sweeper) drain(ctx context.Context, reason string, batch func(context.Context) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := batch(ctx)
		if err != nil {
			return total, err
		}
		total += n
		if n > 0 {
			checkoutKeysSweptTotal.WithLabelValues(s.operation, reason).Add(float64(n))
		}
		if n < s.cfg.BatchSize {
			return total, nil
		}
	}
}
