package local

import (
	"context"
	"sync"
	"time"

	condprovider "github.com/dgduncan/go-cond-provider"
	"github.com/dgduncan/go-cond-provider/caches"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

// BasicCache is an in-memory Store. Entries are kept in their encoded form and
// dropped on read once their TTL hint has passed.
type BasicCache struct {
	cache map[string]item
	now   func() time.Time

	lock sync.RWMutex
}

func (bc *BasicCache) Get(_ context.Context, namespace, key string) (*condprovider.CacheEntry, error) {
	k := caches.NamespacedKey(namespace, key)

	bc.lock.RLock()
	val, found := bc.cache[k]
	bc.lock.RUnlock()

	if !found {
		return nil, caches.ErrNoCacheItem
	}

	if !bc.now().Before(val.expiresAt) {
		bc.lock.Lock()
		// only delete if nobody replaced it in the meantime
		if cur, ok := bc.cache[k]; ok && cur.expiresAt.Equal(val.expiresAt) {
			delete(bc.cache, k)
		}
		bc.lock.Unlock()
		return nil, caches.ErrNoCacheItem
	}

	return condprovider.DecodeEntry(val.value)
}

func (bc *BasicCache) Set(_ context.Context, namespace, key string, v *condprovider.CacheEntry, ttlMinutes int) error {
	b, err := condprovider.EncodeEntry(v)
	if err != nil {
		return err
	}

	bc.lock.Lock()
	defer bc.lock.Unlock()

	bc.cache[caches.NamespacedKey(namespace, key)] = item{
		value:     b,
		expiresAt: bc.now().Add(caches.TTL(ttlMinutes)),
	}

	return nil
}

// Len returns the number of stored items, expired ones included.
func (bc *BasicCache) Len() int {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	return len(bc.cache)
}

// Raw returns the encoded value stored under namespace and key.
func (bc *BasicCache) Raw(namespace, key string) ([]byte, bool) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()
	val, ok := bc.cache[caches.NamespacedKey(namespace, key)]
	return val.value, ok
}

// SetRaw stores an already encoded value, bypassing validation.
func (bc *BasicCache) SetRaw(namespace, key string, value []byte, ttlMinutes int) {
	bc.lock.Lock()
	defer bc.lock.Unlock()
	bc.cache[caches.NamespacedKey(namespace, key)] = item{
		value:     value,
		expiresAt: bc.now().Add(caches.TTL(ttlMinutes)),
	}
}

func NewBasicCache() *BasicCache {
	return NewBasicCacheWithTimeFunc(time.Now)
}

func NewBasicCacheWithTimeFunc(now func() time.Time) *BasicCache {
	return &BasicCache{
		cache: make(map[string]item),
		now:   now,
	}
}
