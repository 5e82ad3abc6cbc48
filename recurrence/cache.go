package recurrence

import (
	"container/list"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
)

// ruleKey identifies a parsed rule. The zone is part of the key because rrule-go binds
// UNTIL and the generated times to it.
type ruleKey struct {
	rule string
	zone string
}

type ruleEntry struct {
	key     ruleKey
	opt     rrule.ROption
	expires time.Time
}

// ruleCache is a size bounded LRU of parsed rule options. Entries older than ttl are
// dropped when they are looked up.
type ruleCache struct {
	mu      sync.Mutex
	size    int
	ttl     time.Duration
	now     func() time.Time
	order   *list.List
	entries map[ruleKey]*list.Element
	stats   CacheStats
}

// CacheStats reports how the rule cache has been used.
type CacheStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

func newRuleCache(size int, ttl time.Duration) *ruleCache {
	return &ruleCache{
		size:    size,
		ttl:     ttl,
		now:     time.Now,
		order:   list.New(),
		entries: make(map[ruleKey]*list.Element, size),
	}
}

func keyOf(rule string, loc *time.Location) ruleKey {
	k := ruleKey{rule: rule}
	if loc != nil {
		k.zone = loc.String()
	}
	return k
}

func (c *ruleCache) get(rule string, loc *time.Location) (rrule.ROption, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[keyOf(rule, loc)]
	if !ok {
		c.stats.Misses++
		return rrule.ROption{}, false
	}
	e := el.Value.(*ruleEntry)
	if c.ttl > 0 && c.now().After(e.expires) {
		c.remove(el)
		c.stats.Misses++
		return rrule.ROption{}, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.opt, true
}

func (c *ruleCache) put(rule string, loc *time.Location, opt rrule.ROption) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := keyOf(rule, loc)
	expires := c.now().Add(c.ttl)
	if el, ok := c.entries[k]; ok {
		e := el.Value.(*ruleEntry)
		e.opt, e.expires = opt, expires
		c.order.MoveToFront(el)
		return
	}
	c.entries[k] = c.order.PushFront(&ruleEntry{key: k, opt: opt, expires: expires})
	for c.order.Len() > c.size {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
}

func (c *ruleCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*ruleEntry).key)
}

func (c *ruleCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.entries)
}

func (c *ruleCache) snapshot() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.order.Len()
	return s
}
