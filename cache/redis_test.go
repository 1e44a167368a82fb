package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestLockerIsExclusiveUntilUnlock(t *testing.T) {
	_, rdb := newRedis(t)
	l := NewRedisLocker(rdb, time.Minute)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "payment-callback:cb-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = l.TryLock(ctx, "payment-callback:cb-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx, "payment-callback:cb-1", token))
	_, ok, err = l.TryLock(ctx, "payment-callback:cb-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewRedisLocker(rdb, 5*time.Second)
	ctx := context.Background()

	_, ok, _ := l.TryLock(ctx, "k")
	require.True(t, ok)
	mr.FastForward(6 * time.Second)

	_, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredHolderCannotReleaseNewLock(t *testing.T) {
	mr, rdb := newRedis(t)
	l := NewRedisLocker(rdb, 5*time.Second)
	ctx := context.Background()

	first, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(6 * time.Second)

	second, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, first, second)

	// the slow first holder finishes late
	require.NoError(t, l.Unlock(ctx, "k", first))
	held, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, second, held)
	_, ok, err = l.TryLock(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx, "k", second))
	assert.False(t, mr.Exists("lock:k"))
}

func TestDedupeScopesAreIndependent(t *testing.T) {
	_, rdb := newRedis(t)
	d := NewRedisDedupe(rdb, time.Hour)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "email", "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "email", "ev-1"))
	seen, err = d.Seen(ctx, "email", "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(ctx, "audit", "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestDedupeMarkerExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	d := NewRedisDedupe(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, d.Mark(ctx, "email", "ev-1"))
	assert.Equal(t, time.Minute, mr.TTL("dedupe:email:ev-1"))
	mr.FastForward(2 * time.Minute)

	seen, err := d.Seen(ctx, "email", "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestLockerReportsBackendErrors(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	_, _, err := NewRedisLocker(rdb, time.Second).TryLock(context.Background(), "k")
	assert.Error(t, err)
}
