package resolver

import (
	"time"

	"github.com/bluele/gcache"
)

// documentCache is an LRU+TTL front for resolved DID Documents, grounded
// on the wallet key manager's `gcache.New(size).Build()` usage: the cache
// itself is the concurrency guard, so callers never need their own lock.
type documentCache struct {
	cache gcache.Cache
}

func newDocumentCache(size int, ttl time.Duration) *documentCache {
	return &documentCache{
		cache: gcache.New(size).LRU().Expiration(ttl).Build(),
	}
}

func (c *documentCache) get(did string) (*Document, bool) {
	v, err := c.cache.Get(did)
	if err != nil {
		return nil, false
	}
	doc, ok := v.(*Document)
	return doc, ok
}

func (c *documentCache) set(did string, doc *Document) {
	_ = c.cache.Set(did, doc)
}
