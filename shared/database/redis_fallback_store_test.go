package database

import (
	"context"
	"testing"
	"time"

	"memorial-server/shared/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFallbackStore(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *redisFallbackStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisFallbackStore(client, "wizard:", ttl, zap.NewNop()).(*redisFallbackStore)
	return mr, store
}

func TestRedisFallbackStore(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key maps to ErrNotFound", func(t *testing.T) {
		_, store := newTestFallbackStore(t, 0)
		_, err := store.Get(ctx, "memorial_draft:anon:abc")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("set get remove round trip with prefix", func(t *testing.T) {
		mr, store := newTestFallbackStore(t, 0)
		require.NoError(t, store.Set(ctx, "memorial_draft_id:user:1", "42"))
		assert.True(t, mr.Exists("wizard:memorial_draft_id:user:1"))

		got, err := store.Get(ctx, "memorial_draft_id:user:1")
		require.NoError(t, err)
		assert.Equal(t, "42", got)

		require.NoError(t, store.Set(ctx, "memorial_draft:user:1", "{}"))
		require.NoError(t, store.Remove(ctx, "memorial_draft_id:user:1", "memorial_draft:user:1"))
		assert.False(t, mr.Exists("wizard:memorial_draft_id:user:1"))
		assert.False(t, mr.Exists("wizard:memorial_draft:user:1"))
	})

	t.Run("ttl expires snapshots", func(t *testing.T) {
		mr, store := newTestFallbackStore(t, time.Hour)
		require.NoError(t, store.Set(ctx, "k", "v"))
		mr.FastForward(2 * time.Hour)
		_, err := store.Get(ctx, "k")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("redis down surfaces an error", func(t *testing.T) {
		mr, store := newTestFallbackStore(t, 0)
		mr.Close()
		err := store.Set(ctx, "k", "v")
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrNotFound)
	})
}
