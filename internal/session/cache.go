package session

import (
	"container/list"
	"sync"
	"time"
)

// cache is a size-bounded LRU of sessions whose entries also expire
// after ttl without access. A zero ttl disables expiry.
type cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

type cacheEntry struct {
	sess    *Session
	expires time.Time
}

func newCache(capacity int, ttl time.Duration) *cache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &cache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (c *cache) expired(e *cacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.After(e.expires)
}

// get returns the cached session and refreshes its recency and expiry.
func (c *cache) get(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return nil, false
	}
	e := el.Value.(*cacheEntry)
	now := c.now()
	if c.expired(e, now) {
		c.removeElement(el)
		return nil, false
	}
	e.expires = now.Add(c.ttl)
	c.ll.MoveToFront(el)
	return e.sess, true
}

// put stores s, evicting the least recently used entry when full.
func (c *cache) put(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.items[s.ID]; ok {
		e := el.Value.(*cacheEntry)
		e.sess = s
		e.expires = expires
		c.ll.MoveToFront(el)
		return
	}
	c.items[s.ID] = c.ll.PushFront(&cacheEntry{sess: s, expires: expires})
	for c.ll.Len() > c.capacity {
		c.removeElement(c.ll.Back())
	}
}

func (c *cache) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		c.removeElement(el)
	}
}

// sweep drops expired entries and returns how many were removed.
func (c *cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*cacheEntry), now) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*cacheEntry).sess.ID)
}
