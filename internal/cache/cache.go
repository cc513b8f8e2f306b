// Package cache fronts redirect lookups with a short-lived code -> URL map
// in redis. A stale entry is self-correcting: the click recorder still goes
// to the store and reports not-found, at which point the entry is dropped.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "url:"

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// GetURL returns the cached original URL for code, and whether it was found.
func (c *Cache) GetURL(ctx context.Context, code string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, keyPrefix+code).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *Cache) SetURL(ctx context.Context, code, originalURL string) error {
	return c.rdb.Set(ctx, keyPrefix+code, originalURL, c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, code string) error {
	return c.rdb.Del(ctx, keyPrefix+code).Err()
}

// Purge drops every cached mapping. Used by the clear-all admin operation so
// wiped codes stop redirecting immediately.
func (c *Cache) Purge(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
