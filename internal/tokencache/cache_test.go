package tokencache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nf-oss/archivesync/internal/domain"
)

// newTestCache requires a reachable redis instance, the same
// short-test-skip/env-var-DSN gate internal/historydb/postgres uses for
// Postgres.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode: skipping redis-backed test")
	}
	addr := os.Getenv("ARCHIVESYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ARCHIVESYNC_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, Config{SourceTTL: time.Minute, HashTTL: time.Minute})
}

func TestSourceCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, found, err := c.SourceByToken(ctx, "missing-token")
	require.NoError(t, err)
	require.False(t, found)

	s := domain.Source{ID: 1, Name: "laptop", AccessToken: "tok-1", CreatedAt: time.Now()}
	require.NoError(t, c.PutSource(ctx, s))

	got, found, err := c.SourceByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, s.ID, got.ID)

	require.NoError(t, c.InvalidateSource(ctx, "tok-1"))
	_, found, err = c.SourceByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestContentHashExistsCache(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, found, err := c.ContentHashExists(ctx, "hash-1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.PutContentHashExists(ctx, "hash-1", true))
	exists, found, err := c.ContentHashExists(ctx, "hash-1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, exists)
}
