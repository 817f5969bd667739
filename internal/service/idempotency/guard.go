package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/domain"
)

// Outcome — ответ, сохраняемый под ключом идемпотентности и отдаваемый при повторе.
type Outcome struct {
	Status int
	Body   []byte
}

// Guard обеспечивает "не более одного исполнения" запроса на ключ.
//
// Успешные (2xx) и клиентские (4xx) ответы запоминаются и повторяются без исполнения.
// Ответы 5xx не запоминаются: ключ освобождается, и повтор исполняется заново.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithGuardLogger задаёт логгер.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTTL задаёт срок хранения ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardClock подменяет источник времени.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard создаёт Guard. Без репозитория Guard просто исполняет запросы.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    domain.DefaultIdempotencyTTL,
		logger: log.WithField("component", "idempotency-guard"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequestHash строит отпечаток запроса, привязанный к операции.
func RequestHash(operation string, body []byte) string {
	payload := make([]byte, 0, len(operation)+1+len(body))
	payload = append(payload, operation...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Execute исполняет run не более одного раза для key. Второй результат сообщает,
// что Outcome взят из сохранённой записи.
//
// Ошибки: ErrIdempotencyKeyAlreadyExists, если запрос с этим ключом ещё исполняется;
// ErrIdempotencyHashMismatch — ключ уже использован с другим телом.
func (g *Guard) Execute(ctx context.Context, key, requestHash string, run func(context.Context) Outcome) (Outcome, bool, error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return run(ctx), false, nil
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().UTC().Add(g.ttl))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			return Outcome{}, false, err
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			if record.Replayable() {
				g.logger.WithField("idempotency_key", key).Debug("replaying stored response")
				return Outcome{Status: record.HTTPStatus, Body: record.ResponseBody}, true, nil
			}
			return Outcome{}, false, err
		default:
			g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to create idempotency record")
			return Outcome{}, false, fmt.Errorf("reserve idempotency key: %w", err)
		}
	}

	outcome := run(ctx)
	g.store(key, outcome)
	return outcome, false, nil
}

func (g *Guard) store(key string, outcome Outcome) {
	// Контекст запроса к этому моменту может быть отменён, а запись всё равно нужна.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch {
	case outcome.Status >= 500 || outcome.Status == 0:
		err = g.repo.Delete(ctx, key)
	case outcome.Status >= 400:
		err = g.repo.MarkFailed(ctx, key, outcome.Body, outcome.Status)
	default:
		err = g.repo.MarkDone(ctx, key, outcome.Body, outcome.Status)
	}
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": key,
			"status":          outcome.Status,
		}).Warn("failed to store idempotency outcome")
	}
}
