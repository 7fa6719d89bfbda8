// Package ristretto implements the cache port with an in-process
// ristretto cache holding serialized recall results and memory stats.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache stores serialized values costed by their byte length.
type Cache struct {
	inner *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxCostBytes of stored value bytes.
func New(maxCostBytes int64) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Recall results and stats blobs run a few KB each; size the
		// admission counters for roughly 10x that item count.
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the cached value for key, reporting whether it was present.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := c.inner.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key for at most ttl. Ristretto applies writes
// through a buffer; Wait makes the entry visible to the next request,
// which matters for recall results reused within the same turn burst.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cost := int64(len(value))
	if cost < 1 {
		cost = 1
	}
	// Admission may still reject the entry; a cache set is best-effort.
	c.inner.SetWithTTL(key, value, cost, ttl)
	c.inner.Wait()
	return nil
}

// Delete drops key, used to invalidate a user's stats after memory writes.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.inner.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.inner.Close()
}
