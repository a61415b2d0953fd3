// Package cache keeps orchestrated search results for a short time, in Redis
// when configured and in an in-process LRU otherwise.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/textnorm"
	"DocSage/backend/go/pkg/util"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"
)

const keyPrefix = "rag:search:"

// TenantPrefix is the key prefix shared by every cached entry of a tenant.
func TenantPrefix(companyID string) string {
	return keyPrefix + companyID + ":"
}

// Key builds the cache key of a query. Queries that normalize to the same
// text share a key.
func Key(companyID, query string, limit int) string {
	return fmt.Sprintf("%s%d:%016x", TenantPrefix(companyID), limit, xxhash.Sum64String(textnorm.Normalize(query)))
}

// New builds the cache selected by cfg.Backend. rdb is only used for "redis".
// "none" yields a nil Cache, which callers treat as disabled.
func New(cfg config.CacheConfig, rdb *redis.Client) (interfaces.Cache, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil
	case "memory":
		m, err := NewMemory(cfg.Capacity, nil)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("cache backend redis requires a redis client")
		}
		return NewRedis(rdb), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Memory is an in-process cache bounded by entry count.
type Memory struct {
	lru *util.LRUCache[string, []byte]
}

// NewMemory creates a Memory cache. now may be nil.
func NewMemory(capacity int, now func() time.Time) (*Memory, error) {
	lru, err := util.NewWithConfig[string, []byte](util.CacheConfig{Capacity: capacity, Now: now})
	if err != nil {
		return nil, err
	}
	return &Memory{lru: lru}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.lru.PutWithTTL(key, value, 1, ttl)
	return nil
}

func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) error {
	m.lru.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
	return nil
}

// Redis stores entries as plain string keys with an expiry.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an initialized client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// InvalidatePrefix deletes the keys SCAN finds under prefix, 200 at a time.
func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

var (
	_ interfaces.Cache = (*Memory)(nil)
	_ interfaces.Cache = (*Redis)(nil)
)
