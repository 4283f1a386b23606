package client

import (
	"sync"

	"github.com/gregjones/httpcache"
)

var _ httpcache.Cache = (*SessionCache)(nil)

// SessionCache is an in-memory httpcache.Cache scoped to one login session.
// Employee payloads carry sensitive fields, so responses are never cached on
// disk and the cache is dropped whenever the session changes.
type SessionCache struct {
	mu    sync.Mutex
	cache *httpcache.MemoryCache
}

// NewSessionCache creates an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{cache: httpcache.NewMemoryCache()}
}

func (c *SessionCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

func (c *SessionCache) Set(key string, responseBytes []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Set(key, responseBytes)
}

func (c *SessionCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Delete(key)
}

// Reset drops every cached response.
func (c *SessionCache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cache = httpcache.NewMemoryCache()
	c.mu.Unlock()
}
