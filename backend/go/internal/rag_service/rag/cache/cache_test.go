package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"DocSage/backend/go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNormalizesQuery(t *testing.T) {
	assert.Equal(t, Key("acme", "株式会社テスト", 10), Key("acme", "  ㈱テスト ", 10))
	assert.NotEqual(t, Key("acme", "テスト", 10), Key("other", "テスト", 10))
	assert.NotEqual(t, Key("acme", "テスト", 10), Key("acme", "テスト", 5))
	assert.True(t, strings.HasPrefix(Key("acme", "q", 1), TenantPrefix("acme")))
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c, err := NewMemory(16, func() time.Time { return now })
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryInvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory(16, nil)
	require.NoError(t, err)

	a, b := Key("acme", "one", 10), Key("globex", "one", 10)
	require.NoError(t, c.Set(ctx, a, []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, b, []byte("2"), time.Minute))
	require.NoError(t, c.InvalidatePrefix(ctx, TenantPrefix("acme")))

	_, ok, _ := c.Get(ctx, a)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, b)
	assert.True(t, ok)
}

func TestNewSelectsBackend(t *testing.T) {
	c, err := New(config.CacheConfig{Backend: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(config.CacheConfig{Backend: "memory", Capacity: 4}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	_, err = New(config.CacheConfig{Backend: "redis"}, nil)
	assert.Error(t, err)

	_, err = New(config.CacheConfig{Backend: "memcached"}, nil)
	assert.Error(t, err)
}
