package server

import (
	"sync"
	"time"

	"llmlatencybench/internal/config"
	"llmlatencybench/internal/provider"
)

const defaultCatalogTTL = 5 * time.Minute

// CatalogCache caches the provider catalog, credentials are only re-checked once the TTL expires
type CatalogCache struct {
	cfg       *config.Config
	entries   []provider.CatalogEntry
	timestamp time.Time
	ttl       time.Duration
	now       func() time.Time
	mutex     sync.RWMutex
}

// NewCatalogCache creates a cache over cfg. A non-positive ttl uses five minutes.
func NewCatalogCache(cfg *config.Config, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	return &CatalogCache{cfg: cfg, ttl: ttl, now: time.Now}
}

// Discover returns the provider catalog, from cache while it is fresh
func (cc *CatalogCache) Discover() ProvidersResponse {
	if entries, ts, ok := cc.get(); ok {
		AppLogger.Debug("using cached provider catalog (age: %v)", cc.now().Sub(ts))
		return ProvidersResponse{Providers: entries, Count: len(entries), Timestamp: ts}
	}

	entries := provider.Catalog(cc.cfg)
	ts := cc.now()
	cc.set(entries, ts)

	ready := 0
	for _, e := range entries {
		if e.HasCredentials {
			ready++
		}
	}
	AppLogger.InfoWithFields("discovered providers", map[string]interface{}{
		"providers":       len(entries),
		"withCredentials": ready,
	})

	return ProvidersResponse{Providers: entries, Count: len(entries), Timestamp: ts}
}

func (cc *CatalogCache) get() ([]provider.CatalogEntry, time.Time, bool) {
	cc.mutex.RLock()
	defer cc.mutex.RUnlock()

	if cc.entries == nil || cc.now().Sub(cc.timestamp) > cc.ttl {
		return nil, time.Time{}, false
	}
	return cc.entries, cc.timestamp, true
}

func (cc *CatalogCache) set(entries []provider.CatalogEntry, timestamp time.Time) {
	cc.mutex.Lock()
	defer cc.mutex.Unlock()

	cc.entries = entries
	cc.timestamp = timestamp
}

// Invalidate clears the cache
func (cc *CatalogCache) Invalidate() {
	cc.mutex.Lock()
	defer cc.mutex.Unlock()

	cc.entries = nil
	cc.timestamp = time.Time{}
}
