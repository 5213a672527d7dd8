package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryCache 测试内存缓存的基本功能
func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(Config{
		Type:            "memory",
		KeyPrefix:       "test",
		DefaultTTL:      time.Second * 2,
		CleanupInterval: time.Second,
	})
	require.NoError(t, err)

	// 测试Set和Get
	require.NoError(t, cache.Set(ctx, "key1", "value1", 0))
	val, found, err := cache.Get(ctx, "key1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value1", val)

	// 测试不存在的键
	val, found, err = cache.Get(ctx, "non-existent")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, val)

	// 测试过期
	require.NoError(t, cache.Set(ctx, "expire-soon", "temp-value", time.Millisecond*200))
	time.Sleep(time.Millisecond * 400)
	_, found, err = cache.Get(ctx, "expire-soon")
	assert.NoError(t, err)
	assert.False(t, found)

	// 测试删除
	require.NoError(t, cache.Set(ctx, "to-delete", "delete-me", 0))
	require.NoError(t, cache.Delete(ctx, "to-delete"))
	_, found, _ = cache.Get(ctx, "to-delete")
	assert.False(t, found)

	// 测试清空
	require.NoError(t, cache.Set(ctx, "key2", "value2", 0))
	require.NoError(t, cache.Clear(ctx))
	_, found, _ = cache.Get(ctx, "key2")
	assert.False(t, found)
}

// TestRedisCache 使用miniredis测试Redis缓存
func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(Config{
		Type:       "redis",
		RedisAddr:  mr.Addr(),
		KeyPrefix:  "paperds",
		DefaultTTL: time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "redis-key1", "redis-value1", 0))
	val, found, err := cache.Get(ctx, "redis-key1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "redis-value1", val)
	assert.True(t, mr.Exists("paperds:redis-key1"), "键应带有前缀")

	_, found, err = cache.Get(ctx, "redis-non-existent")
	assert.NoError(t, err)
	assert.False(t, found)

	// 测试过期
	require.NoError(t, cache.Set(ctx, "redis-expire-soon", "temp", time.Second))
	mr.FastForward(2 * time.Second)
	_, found, err = cache.Get(ctx, "redis-expire-soon")
	assert.NoError(t, err)
	assert.False(t, found)

	// 测试删除
	require.NoError(t, cache.Set(ctx, "redis-to-delete", "x", 0))
	require.NoError(t, cache.Delete(ctx, "redis-to-delete"))
	_, found, _ = cache.Get(ctx, "redis-to-delete")
	assert.False(t, found)

	// Clear只删除前缀下的键
	require.NoError(t, mr.Set("other:key", "keep"))
	require.NoError(t, cache.Set(ctx, "a", "1", 0))
	require.NoError(t, cache.Set(ctx, "b", "2", 0))
	require.NoError(t, cache.Clear(ctx))
	assert.False(t, mr.Exists("paperds:a"))
	assert.False(t, mr.Exists("paperds:b"))
	assert.True(t, mr.Exists("other:key"))
}

func TestRedisCacheUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(Config{Type: "redis", RedisAddr: addr})
	assert.Error(t, err)
}

// TestCacheFactory 测试缓存工厂函数
func TestCacheFactory(t *testing.T) {
	memCache, err := NewCache(DefaultConfig())
	assert.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, memCache)

	mr := miniredis.RunT(t)
	redisCache, err := NewCache(Config{Type: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, redisCache)

	_, err = NewCache(Config{Type: "unknown-type"})
	assert.Error(t, err)

	defaultCache, err := NewCache(Config{})
	assert.NoError(t, err)
	assert.NotNil(t, defaultCache)
}

// TestGenerateCacheKey 测试缓存键生成
func TestGenerateCacheKey(t *testing.T) {
	assert.Equal(t, "prefix", GenerateCacheKey("prefix"))
	assert.Equal(t, "prefix:part1", GenerateCacheKey("prefix", "part1"))
	assert.Equal(t, "prefix:part1:part2:part3", GenerateCacheKey("prefix", "part1", "part2", "part3"))
}

func TestHashKey(t *testing.T) {
	a := HashKey("model", "prompt")
	assert.Len(t, a, 32)
	assert.Equal(t, a, HashKey("model", "prompt"))
	assert.NotEqual(t, a, HashKey("modelp", "rompt"), "分隔符应避免拼接歧义")
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryCache(DefaultConfig())
	require.NoError(t, err)

	type payload struct {
		Title   string   `json:"title"`
		Authors []string `json:"authors"`
	}
	in := payload{Title: "Paper", Authors: []string{"A", "B"}}
	require.NoError(t, SetJSON(ctx, cache, "meta", in, 0))

	var out payload
	found, err := GetJSON(ctx, cache, "meta", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	found, err = GetJSON(ctx, cache, "missing", &out)
	assert.NoError(t, err)
	assert.False(t, found)
}
