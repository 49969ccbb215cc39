package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl), mr
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	locker, mr := newTestLocker(t, time.Minute)
	ctx := context.Background()
	key := DocumentLockKey("doc-1")

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	require.True(t, mr.Exists(key))

	_, err = locker.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	require.False(t, mr.Exists(key))

	release, err = locker.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestRedisLockerReleaseKeepsForeignLock(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)
	ctx := context.Background()
	key := DocumentLockKey("doc-2")

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	other, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	require.NoError(t, release(ctx))
	require.True(t, mr.Exists(key), "stale release must not drop the new holder's lock")
	require.NoError(t, other(ctx))
	require.False(t, mr.Exists(key))
}

func TestDocumentLockKey(t *testing.T) {
	require.Equal(t, "crm:document:abc:lock", DocumentLockKey("abc"))
}
