package reorg

import (
	"container/list"
	"time"
)

// fifoHashSet is a bounded set used for ancestor-walk cycle detection: once
// full, the oldest entry is evicted to admit the newest one. A bounded,
// not-exact set is sufficient here because the walk itself is bounded by
// maxDepth; its only job is to catch obviously cyclic parent chains.
type fifoHashSet struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newFIFOHashSet(capacity int) *fifoHashSet {
	return &fifoHashSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (s *fifoHashSet) seen(hash string) bool {
	_, ok := s.index[hash]
	return ok
}

func (s *fifoHashSet) add(hash string) {
	if s.seen(hash) {
		return
	}
	if s.order.Len() >= s.capacity {
		oldest := s.order.Front()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.index, oldest.Value.(string))
		}
	}
	s.index[hash] = s.order.PushBack(hash)
}

func (s *fifoHashSet) reset() {
	s.order.Init()
	s.index = make(map[string]*list.Element, s.capacity)
}

// lruCache is a small bounded height->hash cache used to avoid N+1 query
// storms during an ancestor walk.
type lruCache struct {
	capacity int
	order    *list.List
	index    map[uint64]*list.Element
}

type lruEntry struct {
	height uint64
	hash   string
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[uint64]*list.Element, capacity),
	}
}

func (c *lruCache) get(height uint64) (string, bool) {
	el, ok := c.index[height]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).hash, true
}

func (c *lruCache) put(height uint64, hash string) {
	if el, ok := c.index[height]; ok {
		el.Value.(*lruEntry).hash = hash
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*lruEntry).height)
		}
	}
	c.index[height] = c.order.PushFront(&lruEntry{height: height, hash: hash})
}

// ttlCache is a small bounded, time-expiring hash->height cache backing
// VerifyChainContinuity's repeated parent lookups within a batch.
type ttlCache struct {
	capacity int
	ttl      time.Duration
	order    *list.List
	index    map[string]*list.Element
}

type ttlEntry struct {
	key       string
	value     uint64
	expiresAt time.Time
}

func newTTLCache(capacity int, ttl time.Duration) *ttlCache {
	return &ttlCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (c *ttlCache) get(key string) (uint64, bool) {
	el, ok := c.index[key]
	if !ok {
		return 0, false
	}
	entry := el.Value.(*ttlEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.index, key)
		return 0, false
	}
	c.order.MoveToFront(el)
	return entry.value, true
}

func (c *ttlCache) put(key string, value uint64) {
	if el, ok := c.index[key]; ok {
		entry := el.Value.(*ttlEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*ttlEntry).key)
		}
	}
	c.index[key] = c.order.PushFront(&ttlEntry{key: key, value: value, expiresAt: time.Now().Add(c.ttl)})
}
