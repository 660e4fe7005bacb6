// Package freqcache memoizes frequency results keyed by (locus, allele,
// scope) and a data version. It is the only stateful, concurrency-sensitive
// part of the engine: imports invalidate per locus, reads run in parallel,
// and a stale entry is treated as a miss rather than an error.
package freqcache

import (
	"context"
	"hash/fnv"
	"sync"

	"varfreq/internal/domain"
	"varfreq/internal/metrics"
)

const shardCount = 64

type entry struct {
	result domain.FrequencyResult
}

type shard struct {
	mu sync.RWMutex
	// entries by full key (locus|allele|scope).
	entries map[string]entry
	// byLocus indexes full keys per locus key for invalidation.
	byLocus map[string]map[string]struct{}
	// floor is the newest version an invalidation announced per locus key;
	// puts computed against an older version are refused.
	floor map[string]uint64
}

// Cache is sharded by locus so invalidating one locus never touches the
// stripes of unrelated loci.
type Cache struct {
	shards [shardCount]*shard
}

func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries: make(map[string]entry),
			byLocus: make(map[string]map[string]struct{}),
			floor:   make(map[string]uint64),
		}
	}
	return c
}

func (c *Cache) shardFor(locusKey string) *shard {
	h := fnv.New32a()
	h.Write([]byte(locusKey))
	return c.shards[h.Sum32()%shardCount]
}

func fullKey(locus domain.Locus, allele domain.Allele, sc domain.Scope) string {
	return locus.String() + "|" + allele.String() + "|" + sc.Key()
}

// Get returns the cached result if it was computed against the current data
// version. A version mismatch deletes the entry and reports a miss; the
// caller recomputes transparently.
func (c *Cache) Get(locus domain.Locus, allele domain.Allele, sc domain.Scope, current uint64) (domain.FrequencyResult, bool) {
	locusKey := locus.String()
	key := fullKey(locus, allele, sc)
	sh := c.shardFor(locusKey)

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return domain.FrequencyResult{}, false
	}
	if e.result.DataVersion != current {
		// Stale read: internal only, never surfaced.
		sh.mu.Lock()
		if stale, still := sh.entries[key]; still && stale.result.DataVersion != current {
			delete(sh.entries, key)
			if keys := sh.byLocus[locusKey]; keys != nil {
				delete(keys, key)
			}
		}
		sh.mu.Unlock()
		metrics.CacheLookups.WithLabelValues("stale").Inc()
		return domain.FrequencyResult{}, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.result, true
}

// Put stores a computed result. It refuses to store when the computation was
// cancelled (write-after-cancel is forbidden) or when an invalidation has
// already announced a newer version for the locus.
func (c *Cache) Put(ctx context.Context, res domain.FrequencyResult) bool {
	if ctx.Err() != nil {
		metrics.CacheRejectedPuts.WithLabelValues("cancelled").Inc()
		return false
	}
	locusKey := res.Locus.String()
	// ScopeKey on the result is already canonical.
	key := locusKey + "|" + res.Allele.String() + "|" + res.ScopeKey

	sh := c.shardFor(locusKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.floor[locusKey] > res.DataVersion {
		metrics.CacheRejectedPuts.WithLabelValues("invalidated").Inc()
		return false
	}
	sh.entries[key] = entry{result: res}
	keys := sh.byLocus[locusKey]
	if keys == nil {
		keys = make(map[string]struct{})
		sh.byLocus[locusKey] = keys
	}
	keys[key] = struct{}{}
	return true
}

// Invalidate drops every entry for the locus and raises the version floor so
// in-flight computations against older data cannot repopulate it. Called by
// the import path after the new version is durably published.
func (c *Cache) Invalidate(locus domain.Locus, newVersion uint64) {
	locusKey := locus.String()
	sh := c.shardFor(locusKey)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.floor[locusKey] < newVersion {
		sh.floor[locusKey] = newVersion
	}
	for key := range sh.byLocus[locusKey] {
		delete(sh.entries, key)
	}
	delete(sh.byLocus, locusKey)
	metrics.Invalidations.Inc()
}

// Len reports the number of live entries, for tests and debugging.
func (c *Cache) Len() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}
