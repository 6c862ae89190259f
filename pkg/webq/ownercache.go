package webq

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ownerCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webq_owner_cache_hits_total",
		Help: "Owner resolve lookups served from the cache.",
	}, []string{"kind"})
	ownerCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webq_owner_cache_misses_total",
		Help: "Owner resolve lookups that went to the repository.",
	}, []string{"kind"})
)

// ownerCache keeps resolved owner entries by external key.
type ownerCache struct {
	kind  OwnerKind
	cache *expirable.LRU[string, OwnerRow]
}

func newOwnerCache(kind OwnerKind, size int, ttl time.Duration) *ownerCache {
	if size <= 0 {
		return nil
	}
	return &ownerCache{
		kind:  kind,
		cache: expirable.NewLRU[string, OwnerRow](size, nil, ttl),
	}
}

func (c *ownerCache) get(key string) (*OwnerRow, bool) {
	if c == nil {
		return nil, false
	}
	row, ok := c.cache.Get(key)
	if !ok {
		ownerCacheMisses.WithLabelValues(string(c.kind)).Inc()
		return nil, false
	}
	ownerCacheHits.WithLabelValues(string(c.kind)).Inc()
	return &row, true
}

func (c *ownerCache) set(row *OwnerRow) {
	if c == nil || row == nil {
		return
	}
	c.cache.Add(row.ExternalKey, *row)
}

func (c *ownerCache) remove(key string) {
	if c == nil {
		return
	}
	c.cache.Remove(key)
}
