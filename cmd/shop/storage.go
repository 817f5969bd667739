package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/storage/file"
	"github.com/Steank-29/tawakkol/internal/storage/redisstore"
)

const redisPingTimeout = 2 * time.Second

// openStorage выбирает хранилище снимка корзины: Redis, если задан адрес, иначе каталог на диске.
func openStorage(ctx context.Context, opts options) (domain.CartSnapshotStorage, func(), error) {
	if opts.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		storage := redisstore.NewCartStorage(client, redisstore.WithTTL(opts.redisTTL))

		pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := storage.Ping(pctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", opts.redisAddr, err)
		}
		return storage, func() { _ = client.Close() }, nil
	}

	storage, err := file.NewCartStorage(opts.cartDir)
	if err != nil {
		return nil, nil, fmt.Errorf("cart dir %s: %w", opts.cartDir, err)
	}
	return storage, func() {}, nil
}
