// Package retry повторяет операции с экспоненциальной задержкой.
package retry

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config — параметры повторов.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Option настраивает Retrier.
type Option func(*Retrier)

// WithRetryIf задаёт, какие ошибки повторяются. По умолчанию повторяются все, кроме отмены контекста.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.retryIf = fn
		}
	}
}

// WithOnRetry вызывается перед каждой паузой между попытками.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(r *Retrier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Retrier выполняет операцию до успеха, неповторяемой ошибки или исчерпания попыток.
type Retrier struct {
	config  Config
	retryIf func(error) bool
	onRetry func(attempt int, delay time.Duration, err error)
	logger  *log.Entry
}

// New создаёт Retrier. Нулевые поля config берутся из DefaultConfig.
func New(config Config, opts ...Option) *Retrier {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = 0
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = def.BackoffFactor
	}

	r := &Retrier{
		config:  config,
		retryIf: defaultRetryIf,
		logger:  log.WithField("component", "retry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Do вызывает fn и возвращает последнюю ошибку. Пауза между попытками прерывается ctx.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	delay := r.config.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{"operation": operation, "attempt": attempt}).Info("operation succeeded after retry")
			}
			return nil
		}
		if !r.retryIf(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		r.logger.WithError(lastErr).WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("operation failed, retrying")
		if r.onRetry != nil {
			r.onRetry(attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	r.logger.WithError(lastErr).WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": r.config.MaxAttempts,
	}).Error("operation failed after all retry attempts")
	return lastErr
}
