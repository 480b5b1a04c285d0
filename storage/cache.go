package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Store with a Redis read-through cache. Writes go to the base
// store first and then evict the cached copy.
//
// Every eviction bumps a per-key generation counter. A read that misses only
// fills the cache if the generation it saw before reading the base store is
// still current, so a slow reader cannot put back bytes that a concurrent
// writer already replaced.
type Cache struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A zero TTL disables population of the cache.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := c.load(ctx, key); ok {
		return data, nil
	}
	gen, genErr := c.generation(ctx, key)
	data, err := c.base.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		c.store(ctx, key, data, gen)
	}
	return data, nil
}

// GetVersion always reads the base store so the version is current. Without
// a versioned base the version is empty.
func (c *Cache) GetVersion(ctx context.Context, key string) ([]byte, string, error) {
	if v, ok := c.base.(Versioned); ok {
		return v.GetVersion(ctx, key)
	}
	data, err := c.base.Get(ctx, key)
	return data, "", err
}

func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.base.Set(ctx, key, value); err != nil {
		return err
	}
	c.evict(ctx, key)
	return nil
}

// SetIfVersion degrades to an unconditional write when the base store is not
// versioned.
func (c *Cache) SetIfVersion(ctx context.Context, key string, value []byte, version string) error {
	var err error
	if v, ok := c.base.(Versioned); ok {
		err = v.SetIfVersion(ctx, key, value, version)
	} else {
		err = c.base.Set(ctx, key, value)
	}
	if err != nil {
		return err
	}
	c.evict(ctx, key)
	return nil
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	if err := c.base.Remove(ctx, key); err != nil {
		return err
	}
	c.evict(ctx, key)
	return nil
}

func (c *Cache) load(ctx context.Context, key string) ([]byte, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, cacheKey(key)).Err()
		}
		return nil, false
	}
	return data, true
}

func (c *Cache) generation(ctx context.Context, key string) (int64, error) {
	if c.redis == nil {
		return 0, errors.New("cache disabled")
	}
	gen, err := c.redis.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// store fills the cache unless the key was evicted since gen was read.
func (c *Cache) store(ctx context.Context, key string, data []byte, gen int64) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	genKey := generationKey(key)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, cacheKey(key), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationKey(key))
		p.Del(ctx, cacheKey(key))
		return nil
	})
}

func cacheKey(key string) string {
	return "cache:" + key
}

func generationKey(key string) string {
	return "cache:gen:" + key
}
