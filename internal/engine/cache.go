package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// CacheStats is a snapshot of rule cache activity.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// ruleCache memoizes compiled rule sets per (vendor, data type, source).
// Concurrent misses for one key share a single load. Failed loads are not
// cached, so a vendor added to the catalog is picked up on the next call.
type ruleCache struct {
	mu      sync.RWMutex
	entries map[ruleKey]*ruleSet
	group   singleflight.Group
	hits    atomic.Uint64
	misses  atomic.Uint64
}

func newRuleCache() *ruleCache {
	return &ruleCache{entries: map[ruleKey]*ruleSet{}}
}

func (c *ruleCache) get(key ruleKey) (*ruleSet, bool) {
	c.mu.RLock()
	rs, ok := c.entries[key]
	c.mu.RUnlock()
	return rs, ok
}

// load returns the cached rule set for key, calling fill on a miss. hit
// reports whether the entry was already present. fill runs detached from the
// caller's cancellation since other callers may be waiting on the same load;
// a cancelled caller stops waiting and gets ctx.Err().
func (c *ruleCache) load(ctx context.Context, key ruleKey, fill func(context.Context) (*ruleSet, error)) (rs *ruleSet, hit bool, err error) {
	if rs, ok := c.get(key); ok {
		c.hits.Add(1)
		return rs, true, nil
	}
	c.misses.Add(1)
	fillCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		if rs, ok := c.get(key); ok {
			return rs, nil
		}
		rs, err := fill(fillCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = rs
		c.mu.Unlock()
		return rs, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*ruleSet), false, nil
	}
}

// invalidate drops every entry for vendor and returns how many were removed.
func (c *ruleCache) invalidate(vendor string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if k.vendor == vendor {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *ruleCache) invalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = map[ruleKey]*ruleSet{}
	return n
}

func (c *ruleCache) stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}
