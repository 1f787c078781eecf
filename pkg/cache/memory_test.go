package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Answer string `json:"answer"`
	Tokens int    `json:"tokens"`
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", payload{Answer: "hello", Tokens: 3}, 0))

	var got payload
	hit, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "hello", got.Answer)
	assert.Equal(t, 3, got.Tokens)
}

func TestMemoryCache_GetMiss(t *testing.T) {
	c := NewMemoryCache(0)

	var got payload
	hit, err := c.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "v1", 10*time.Millisecond))

	var got string
	hit, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, hit)

	time.Sleep(20 * time.Millisecond)

	hit, err = c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.False(t, hit, "expired entry must be a miss")
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "v1", 0))
	time.Sleep(10 * time.Millisecond)

	var got string
	hit, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "v1", got)
}

func TestMemoryCache_GetOrSet(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Answer: "computed"}, nil
	}

	var got payload
	require.NoError(t, c.GetOrSet(ctx, "k1", &got, time.Minute, loader))
	assert.Equal(t, "computed", got.Answer)
	assert.Equal(t, 1, calls)

	// 第二次命中缓存，loader 不再执行
	var again payload
	require.NoError(t, c.GetOrSet(ctx, "k1", &again, time.Minute, loader))
	assert.Equal(t, "computed", again.Answer)
	assert.Equal(t, 1, calls)
}

func TestMemoryCache_GetOrSet_LoaderError(t *testing.T) {
	c := NewMemoryCache(0)

	wantErr := errors.New("backend down")
	var got payload
	err := c.GetOrSet(context.Background(), "k1", &got, time.Minute, func(context.Context) (any, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	hit, _ := c.Exists(context.Background(), "k1")
	assert.False(t, hit, "failed load must not be cached")
}

func TestMemoryCache_ClearPattern(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "chat:u1:a", "v", 0))
	require.NoError(t, c.Set(ctx, "chat:u1:b", "v", 0))
	require.NoError(t, c.Set(ctx, "chat:u2:a", "v", 0))

	deleted, err := c.Clear(ctx, "chat:u1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	hit, _ := c.Exists(ctx, "chat:u2:a")
	assert.True(t, hit)
}

func TestMemoryCache_Increment(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	n, err := c.Increment(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Increment(ctx, "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	// 计数器值可以按数字读取
	var got int64
	hit, err := c.Get(ctx, "counter", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(6), got)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "v", 0))
	require.NoError(t, c.Delete(ctx, "k1", "never-existed"))

	hit, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryCache_Sweeper(t *testing.T) {
	c := NewMemoryCache(5 * time.Millisecond)
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "v", 5*time.Millisecond))
	require.NoError(t, c.Set(ctx, "k2", "v", 0))

	assert.Eventually(t, func() bool {
		return c.Len() == 1
	}, time.Second, 10*time.Millisecond, "sweeper should evict the expired entry")
}
