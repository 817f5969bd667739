package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Steank-29/tawakkol/internal/domain"
)

func setupTestRedis(t *testing.T, opts ...Option) (*CartStorage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCartStorage(client, opts...), mr
}

func TestCartStorage_SaveLoadDelete(t *testing.T) {
	storage, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := storage.Load(ctx, "cart")
	require.ErrorIs(t, err, domain.ErrCartSnapshotNotFound)

	require.NoError(t, storage.Save(ctx, "cart", []byte(`[]`)))
	got, err := mr.Get("tawakkol:cart")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)

	data, err := storage.Load(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	require.NoError(t, storage.Delete(ctx, "cart"))
	assert.False(t, mr.Exists("tawakkol:cart"))
	require.NoError(t, storage.Ping(ctx))
}

func TestCartStorage_TTL(t *testing.T) {
	storage, mr := setupTestRedis(t, WithTTL(time.Hour), WithPrefix("shop:"))
	ctx := context.Background()

	require.NoError(t, storage.Save(ctx, "session-1", []byte(`[]`)))
	assert.Equal(t, time.Hour, mr.TTL("shop:session-1"))

	mr.FastForward(2 * time.Hour)
	_, err := storage.Load(ctx, "session-1")
	require.ErrorIs(t, err, domain.ErrCartSnapshotNotFound)
}

func TestCartStorage_ServerDown(t *testing.T) {
	storage, mr := setupTestRedis(t)
	mr.Close()

	_, err := storage.Load(context.Background(), "cart")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrCartSnapshotNotFound)
	require.Error(t, storage.Save(context.Background(), "cart", []byte(`[]`)))
}
