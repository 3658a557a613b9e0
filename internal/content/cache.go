package content

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheTTL        = 10 * time.Minute
	defaultCacheMaxEntries = 512
)

// documentCache holds raw pages by path. Each entry costs 1, so MaxCost is an
// entry count. Concurrent misses for the same path share one load.
type documentCache struct {
	store  *ristretto.Cache[string, string]
	ttl    time.Duration
	flight singleflight.Group
}

func newDocumentCache(maxEntries int, ttl time.Duration) (*documentCache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	store, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters:        int64(maxEntries) * 10,
		MaxCost:            int64(maxEntries),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create content cache: %w", err)
	}
	return &documentCache{store: store, ttl: ttl}, nil
}

// get returns the cached page or runs load once for all concurrent callers.
// Failed loads are not cached.
func (c *documentCache) get(ctx context.Context, path string, load func(context.Context) (string, error)) (string, error) {
	if value, ok := c.store.Get(path); ok {
		return value, nil
	}

	result, err, _ := c.flight.Do(path, func() (interface{}, error) {
		if value, ok := c.store.Get(path); ok {
			return value, nil
		}
		value, err := load(ctx)
		if err != nil {
			return "", err
		}
		c.store.SetWithTTL(path, value, 1, c.ttl)
		c.store.Wait()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *documentCache) invalidate(path string) {
	c.store.Del(path)
}

func (c *documentCache) close() {
	c.store.Close()
}
