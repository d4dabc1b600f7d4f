package coordinator

import (
	"container/list"
	"sync"
	"time"
)

// slidingCache is the "sliding cache with TTL" primitive spec §9 calls out
// as the one mutation-ordered structure collapsing the source's concurrent
// dictionary + LRU linked list: capacity-bound LRU with both a sliding TTL
// (refreshed on access) and an absolute TTL (from first insertion).
type slidingCache struct {
	mu          sync.Mutex
	capacity    int
	slidingTTL  time.Duration
	absoluteTTL time.Duration
	ll          *list.List
	items       map[string]*list.Element
	now         func() time.Time
}

type cacheEntry struct {
	key       string
	atom      *Atom
	insertedAt time.Time
	expiresAt  time.Time
}

func newSlidingCache(capacity int, slidingTTL time.Duration, now func() time.Time) *slidingCache {
	if now == nil {
		now = time.Now
	}
	return &slidingCache{
		capacity:    capacity,
		slidingTTL:  slidingTTL,
		absoluteTTL: 2 * slidingTTL,
		ll:          list.New(),
		items:       make(map[string]*list.Element),
		now:         now,
	}
}

// GetOrCreate returns the atom for key, creating and registering one via
// create() if absent or expired. Access refreshes the sliding TTL and the
// LRU recency.
func (c *slidingCache) GetOrCreate(key string, create func() *Atom) *Atom {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		if now.Before(entry.expiresAt) {
			entry.expiresAt = minTime(now.Add(c.slidingTTL), entry.insertedAt.Add(c.absoluteTTL))
			c.ll.MoveToFront(el)
			return entry.atom
		}
		entry.atom.MarkEvicted()
		c.ll.Remove(el)
		delete(c.items, key)
	}

	atom := create()
	entry := &cacheEntry{key: key, atom: atom, insertedAt: now, expiresAt: now.Add(c.slidingTTL)}
	el := c.ll.PushFront(entry)
	c.items[key] = el

	for len(c.items) > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		oe := oldest.Value.(*cacheEntry)
		oe.atom.MarkEvicted()
		c.ll.Remove(oldest)
		delete(c.items, oe.key)
	}

	return atom
}

// Get reads an atom without creating one, returning ok=false if absent or
// expired.
func (c *slidingCache) Get(key string) (*Atom, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.atom, true
}

// Len returns the current number of live entries.
func (c *slidingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Range calls fn for every live (non-expired) entry, signature first, most
// recently used first. fn must not call back into the cache.
func (c *slidingCache) Range(fn func(signature string, atom *Atom)) {
	c.mu.Lock()
	now := c.now()
	type live struct {
		key  string
		atom *Atom
	}
	entries := make([]live, 0, len(c.items))
	for el := c.ll.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*cacheEntry)
		if now.Before(entry.expiresAt) {
			entries = append(entries, live{key: entry.key, atom: entry.atom})
		}
	}
	c.mu.Unlock()

	for _, e := range entries {
		fn(e.key, e.atom)
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
