package local

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LocalCache {
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetExists(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", "value1", 0))

	ok, err := c.Exists(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ttl_key", "val", 10*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	ok, _ := c.Exists(ctx, "ttl_key")
	assert.False(t, ok)
}

func TestDelRemovesKVAndSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", 0)
	_ = c.SAdd(ctx, "s", "a")
	require.NoError(t, c.Del(ctx, "k", "s"))

	ok, _ := c.Exists(ctx, "k")
	assert.False(t, ok)
	members, _ := c.SMembers(ctx, "s")
	assert.Empty(t, members)
}

func TestSetNX(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", "owner", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok) // already held
}

func TestSetNX_ExpiredLockCanBeRetaken(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, _ := c.SetNX(ctx, "lock", "a", 5*time.Millisecond)
	require.True(t, ok)
	time.Sleep(15 * time.Millisecond)
	ok, _ = c.SetNX(ctx, "lock", "b", time.Minute)
	assert.True(t, ok)
}

func TestSetNX_SingleWinnerUnderContention(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := c.SetNX(ctx, "race", "x", time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestDelIfEquals(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	_, _ = c.SetNX(ctx, "lock", "token-a", time.Minute)

	ok, err := c.DelIfEquals(ctx, "lock", "token-b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.DelIfEquals(ctx, "lock", "token-a")
	require.NoError(t, err)
	assert.True(t, ok)

	exists, _ := c.Exists(ctx, "lock")
	assert.False(t, exists)
}

func TestSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "s", "a", "b", "c"))
	members, err := c.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	ok, err := c.SIsMember(ctx, "s", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.SRem(ctx, "s", "b"))
	ok, _ = c.SIsMember(ctx, "s", "b")
	assert.False(t, ok)

	exists, _ := c.Exists(ctx, "s")
	assert.True(t, exists)
	require.NoError(t, c.SRem(ctx, "s", "a", "c"))
	exists, _ = c.Exists(ctx, "s")
	assert.False(t, exists)
}

func TestCloseTwice(t *testing.T) {
	c, err := NewCache(Config{GCInterval: time.Millisecond})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
