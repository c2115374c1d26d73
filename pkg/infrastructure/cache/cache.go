// Package cache provides the byte caches behind the webhook resolver and the
// session store: a bounded in-process LRU and Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/embedg/embedg/pkg/config"
)

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

type memoryEntry struct {
	value    []byte
	storedAt time.Time
}

// Memory is a size-bounded LRU whose entries expire ttl after being set.
type Memory struct {
	cache *lru.Cache[string, memoryEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory returns an LRU holding at most size entries. ttl <= 0 disables
// expiry.
func NewMemory(size int, ttl time.Duration) (*Memory, error) {
	c, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Memory{cache: c, ttl: ttl, now: time.Now}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if m.ttl > 0 && m.now().Sub(e.storedAt) > m.ttl {
		m.cache.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.cache.Add(key, memoryEntry{value: value, storedAt: m.now()})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

// Len returns the number of entries, expired ones included.
func (m *Memory) Len() int { return m.cache.Len() }

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// Redis stores entries under prefix with a fixed TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis namespaces keys with prefix. ttl <= 0 stores without expiry.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl < 0 {
		ttl = 0
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// KV is the interface both implementations satisfy.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Factory creates namespaced caches on the configured backend.
type Factory struct {
	cfg    config.CacheConfig
	client *redis.Client
}

// NewFactory connects to Redis when the redis driver is selected.
func NewFactory(ctx context.Context, cfg config.CacheConfig) (*Factory, error) {
	f := &Factory{cfg: cfg}
	if !strings.EqualFold(cfg.Driver, "redis") {
		return f, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	f.client = redis.NewClient(opts)
	if err := f.client.Ping(ctx).Err(); err != nil {
		f.client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return f, nil
}

// New returns a cache for namespace whose entries live for ttl.
func (f *Factory) New(namespace string, ttl time.Duration) (KV, error) {
	if f.client != nil {
		return NewRedis(f.client, "embedg:"+namespace+":", ttl), nil
	}
	return NewMemory(f.cfg.Size, ttl)
}

// Ping checks Redis; memory caches are always up.
func (f *Factory) Ping(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	return f.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (f *Factory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
