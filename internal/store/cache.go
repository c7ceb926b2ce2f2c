package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ndrandal/tradecore/internal/eventbus"
	"github.com/ndrandal/tradecore/internal/metrics"
)

type candleCacheKey struct {
	symbol       string
	resolutionMs int64
}

type eventCacheKey struct {
	symbol string
	startMs int64
	endMs   int64
}

// readCache holds the LRU caches for candles and events (cache_mutex). It
// is consulted before a durable read and populated on miss. A candle flush
// invalidates only the (symbol, resolution) entries the flushed batch
// touched; an event flush purges the whole event cache.
type readCache struct {
	mu      sync.Mutex
	candles *lru.Cache[candleCacheKey, []eventbus.CandleEvent]
	events  *lru.Cache[eventCacheKey, []EventRecord]
	m       *metrics.Registry
}

func newReadCache(cfg Config, m *metrics.Registry) *readCache {
	candleSize := cfg.CandleCacheSize
	if candleSize <= 0 {
		candleSize = 100
	}
	eventSize := cfg.EventCacheSize
	if eventSize <= 0 {
		eventSize = 100
	}

	candles, _ := lru.New[candleCacheKey, []eventbus.CandleEvent](candleSize)
	events, _ := lru.New[eventCacheKey, []EventRecord](eventSize)

	return &readCache{candles: candles, events: events, m: m}
}

func (c *readCache) getCandles(key candleCacheKey) ([]eventbus.CandleEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.candles.Get(key)
	c.record(ok, "candles")
	return v, ok
}

func (c *readCache) putCandles(key candleCacheKey, v []eventbus.CandleEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candles.Add(key, v)
}

func (c *readCache) getEvents(key eventCacheKey) ([]EventRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.events.Get(key)
	c.record(ok, "events")
	return v, ok
}

func (c *readCache) putEvents(key eventCacheKey, v []EventRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events.Add(key, v)
}

func (c *readCache) record(hit bool, cache string) {
	if c.m == nil {
		return
	}
	if hit {
		c.m.CacheHits.WithLabelValues(cache).Inc()
	} else {
		c.m.CacheMisses.WithLabelValues(cache).Inc()
	}
}

// invalidateCandlesForBatch drops every cached (symbol, resolution) slice
// touched by a flushed batch, forcing the next query to reload from disk.
func (c *readCache) invalidateCandlesForBatch(batch []eventbus.CandleEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[candleCacheKey]bool)
	for _, cd := range batch {
		key := candleCacheKey{symbol: cd.Symbol, resolutionMs: cd.ResolutionMs}
		if !seen[key] {
			c.candles.Remove(key)
			seen[key] = true
		}
	}
}

// invalidateEventsForBatch purges the whole event cache on any flushed
// batch: event query keys are (symbol, start, end) ranges, too numerous to
// cheaply intersect against a batch, so precision is sacrificed for
// simplicity here, matching the store's "consult cache, miss reloads from
// durable storage" contract.
func (c *readCache) invalidateEventsForBatch(batch []EventRecord) {
	if len(batch) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events.Purge()
}

// clearAll purges both caches.
func (c *readCache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candles.Purge()
	c.events.Purge()
}
