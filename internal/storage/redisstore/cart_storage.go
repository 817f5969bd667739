// Package redisstore хранит снимки корзин в Redis, по ключу на сессию.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Steank-29/tawakkol/internal/domain"
)

const defaultTTL = 30 * 24 * time.Hour

// CartStorage — реализация domain.CartSnapshotStorage поверх go-redis.
type CartStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Option настраивает CartStorage.
type Option func(*CartStorage)

// WithTTL задаёт срок жизни снимка; 0 означает без срока.
func WithTTL(ttl time.Duration) Option {
	return func(s *CartStorage) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithPrefix задаёт префикс ключей.
func WithPrefix(prefix string) Option {
	return func(s *CartStorage) {
		s.prefix = prefix
	}
}

// NewCartStorage создаёт хранилище поверх готового клиента.
func NewCartStorage(client *redis.Client, opts ...Option) *CartStorage {
	s := &CartStorage{
		client: client,
		prefix: "tawakkol:",
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CartStorage) redisKey(key string) string {
	return s.prefix + key
}

func (s *CartStorage) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCartSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}
	return data, nil
}

func (s *CartStorage) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.redisKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	return nil
}

func (s *CartStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis (для readiness).
func (s *CartStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ domain.CartSnapshotStorage = (*CartStorage)(nil)
