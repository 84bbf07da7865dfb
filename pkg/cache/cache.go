// ABOUTME: Bounded cache of Pages keyed by page address, hit-frequency-weighted eviction
// ABOUTME: Fixed-capacity page cache with pinning and an LRU-ish evictor

package cache

import (
	"github.com/nainya/kvengine/pkg/kverrors"
	"github.com/nainya/kvengine/pkg/page"
)

// Metrics is the narrow slice of internal/metrics that Cache reports to,
// kept as an interface so the package stays independent of the metrics
// registry wiring.
type Metrics interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
}

type noopMetrics struct{}

func (noopMetrics) CacheHit()      {}
func (noopMetrics) CacheMiss()     {}
func (noopMetrics) CacheEviction() {}

// typeWeight is the per-page-type eviction weight k in counter - k*frequency:
// higher-value page types (B-tree roots/indexes) survive longer than a
// one-shot sequential scan over record-data pages.
var typeWeight = map[page.Type]uint64{
	page.TypeHeader:      1 << 20,
	page.TypeBRoot:       1 << 16,
	page.TypeBIndex:      1 << 12,
	page.TypeFreelist:    1 << 10,
	page.TypeDupeTable:   1 << 8,
	page.TypeExtKey:      1 << 8,
	page.TypeBlob:        1 << 4,
	page.TypeRecordData:  1,
}

// Cache is a bounded, in-memory set of Pages. Strict mode rejects growth
// past maxPages and returns CacheFull; unlimited mode (maxPages <= 0) permits
// unbounded growth.
type Cache struct {
	maxPages int
	strict   bool
	pages    map[uint64]*page.Page
	counter  uint64
	metrics  Metrics
}

// New builds a Cache. maxPages <= 0 means unlimited.
func New(maxPages int, strict bool) *Cache {
	return &Cache{
		maxPages: maxPages,
		strict:   strict,
		pages:    make(map[uint64]*page.Page),
		metrics:  noopMetrics{},
	}
}

func (c *Cache) SetMetrics(m Metrics) {
	if m != nil {
		c.metrics = m
	}
}

// Get looks up a cached page by address, bumping its cache statistics.
func (c *Cache) Get(rid uint64) (*page.Page, bool) {
	p, ok := c.pages[rid]
	if !ok {
		c.metrics.CacheMiss()
		return nil, false
	}
	c.counter++
	p.Touch(c.counter)
	c.metrics.CacheHit()
	return p, true
}

// Put inserts or replaces a page. In strict mode, if the cache is already at
// capacity and every cached page is pinned, Put fails with CacheFull without
// partially updating anything.
func (c *Cache) Put(p *page.Page) error {
	if _, exists := c.pages[p.Rid]; exists {
		c.pages[p.Rid] = p
		return nil
	}

	if c.strict && c.maxPages > 0 && len(c.pages) >= c.maxPages {
		if !c.evictOne() {
			return kverrors.New(kverrors.CacheFull, "no unpinned page to evict")
		}
	} else if c.maxPages > 0 && len(c.pages) >= c.maxPages {
		// non-strict mode with a positive bound evicts on a best-effort
		// basis; if every page is pinned the cache grows past maxPages.
		c.evictOne()
	}

	c.counter++
	p.Touch(c.counter)
	c.pages[p.Rid] = p
	return nil
}

// evictOne removes the unpinned page minimizing counter - k*frequency.
// Returns false if every cached page is pinned.
func (c *Cache) evictOne() bool {
	var victim *page.Page
	var victimScore int64
	for _, p := range c.pages {
		if p.Pinned() {
			continue
		}
		k := typeWeight[p.Typ]
		if k == 0 {
			k = 1
		}
		score := int64(p.CacheCounter) - int64(k)*int64(p.HitFrequency)
		if victim == nil || score < victimScore {
			victim = p
			victimScore = score
		}
	}
	if victim == nil {
		return false
	}
	delete(c.pages, victim.Rid)
	c.metrics.CacheEviction()
	return true
}

// Remove drops a page from the cache unconditionally (e.g. after Free).
func (c *Cache) Remove(rid uint64) {
	delete(c.pages, rid)
}

func (c *Cache) Pin(rid uint64) {
	if p, ok := c.pages[rid]; ok {
		p.Pin()
	}
}

func (c *Cache) Unpin(rid uint64) {
	if p, ok := c.pages[rid]; ok {
		p.Unpin()
	}
}

func (c *Cache) Len() int { return len(c.pages) }

// Dirty returns every currently-dirty cached page, for flush/checkpoint.
func (c *Cache) Dirty() []*page.Page {
	var out []*page.Page
	for _, p := range c.pages {
		if p.Dirty {
			out = append(out, p)
		}
	}
	return out
}
