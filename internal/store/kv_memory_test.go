package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryKVSetGet(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	require.NoError(t, kv.SetTTL(ctx, "k", "v", 0))

	val, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", val)

	_, ok, err = kv.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryKVLazyExpiry(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	now := time.Now()
	kv.Now = func() time.Time { return now }

	require.NoError(t, kv.SetTTL(ctx, "k", "v", time.Minute))

	_, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)

	_, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "entry past its TTL must read as absent")
}

func TestMemoryKVSetNX(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	set, err := kv.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, set)

	set, err = kv.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	require.False(t, set)

	val, _, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "first", val)
}

func TestMemoryKVSetNXAfterExpiry(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	now := time.Now()
	kv.Now = func() time.Time { return now }

	set, err := kv.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, set)

	now = now.Add(2 * time.Minute)

	set, err = kv.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	require.True(t, set, "an expired key must be claimable again")
}

func TestMemoryKVIncr(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	n, err := kv.Incr(ctx, "counter")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = kv.Incr(ctx, "counter")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestMemoryKVIncrPreservesExpiry(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	now := time.Now()
	kv.Now = func() time.Time { return now }

	_, err := kv.Incr(ctx, "counter")
	require.NoError(t, err)
	require.NoError(t, kv.Expire(ctx, "counter", time.Minute))

	_, err = kv.Incr(ctx, "counter")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	n, err := kv.Incr(ctx, "counter")
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "counter must restart after the window expires")
}

func TestMemoryKVExpireMissingKey(t *testing.T) {
	kv := NewMemoryKV()
	err := kv.Expire(context.Background(), "missing", time.Minute)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryKVDel(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	require.NoError(t, kv.SetTTL(ctx, "a", "1", 0))
	require.NoError(t, kv.SetTTL(ctx, "b", "2", 0))

	require.NoError(t, kv.Del(ctx, "a", "b", "missing"))

	_, ok, _ := kv.Get(ctx, "a")
	require.False(t, ok)
	_, ok, _ = kv.Get(ctx, "b")
	require.False(t, ok)
}
