package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := NewRedisStore(client)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "availability:v1:2026-09-01", []byte(`[]`), time.Minute))

		entry, err := store.Get(ctx, "availability:v1:2026-09-01")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, []byte(`[]`), entry.Value)
	})

	t.Run("Missing", func(t *testing.T) {
		entry, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "short", []byte("v"), time.Second))
		s.FastForward(2 * time.Second)

		entry, err := store.Get(ctx, "short")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("Invalidate", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
		require.NoError(t, store.Invalidate(ctx, "k"))

		entry, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("InvalidatePrefix", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "availability:v2:2026-09-01", []byte("a"), time.Minute))
		require.NoError(t, store.Set(ctx, "availability:v2:2026-09-02", []byte("b"), time.Minute))
		require.NoError(t, store.Set(ctx, "bookings:me", []byte("c"), time.Minute))

		require.NoError(t, store.InvalidatePrefix(ctx, "availability:v2:"))

		entry, _ := store.Get(ctx, "availability:v2:2026-09-01")
		assert.Nil(t, entry)
		entry, _ = store.Get(ctx, "bookings:me")
		assert.NotNil(t, entry)
	})

	t.Run("NilClient", func(t *testing.T) {
		nilStore := NewRedisStore(nil)
		_, err := nilStore.Get(ctx, "k")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})
}
