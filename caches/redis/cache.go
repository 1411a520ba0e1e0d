// Package redis implements the cache store on Redis. The TTL hint maps onto the
// native key expiry.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	condprovider "github.com/dgduncan/go-cond-provider"
	"github.com/dgduncan/go-cond-provider/caches"
)

// DefaultPrefix is prepended to every key unless Config.Prefix is set.
const DefaultPrefix = "condprovider"

// Config defines the configuration options for the Redis cache implementation.
type Config struct {
	// Prefix namespaces all keys written by this store.
	Prefix string
}

// Cache implements condprovider.Store on Redis.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

func (c *Cache) key(namespace, key string) string {
	return c.prefix + ":" + caches.NamespacedKey(namespace, key)
}

// Get returns the entry stored under namespace and key.
func (c *Cache) Get(ctx context.Context, namespace, key string) (*condprovider.CacheEntry, error) {
	b, err := c.client.Get(ctx, c.key(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return condprovider.DecodeEntry(b)
}

// Set stores the entry with the TTL hint as key expiry.
func (c *Cache) Set(ctx context.Context, namespace, key string, v *condprovider.CacheEntry, ttlMinutes int) error {
	b, err := condprovider.EncodeEntry(v)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.key(namespace, key), b, caches.TTL(ttlMinutes)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// New creates a Redis backed store. It accepts any go-redis client, including
// cluster and sentinel clients.
func New(client redis.UniversalClient, config *Config) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}

	prefix := DefaultPrefix
	if config != nil && config.Prefix != "" {
		prefix = config.Prefix
	}

	return &Cache{
		client: client,
		prefix: prefix,
	}, nil
}
