package embedding

import (
	"container/list"
	"sync"

	"github.com/zeebo/blake3"
)

type imageKey [32]byte

func hashImage(data []byte) imageKey {
	return blake3.Sum256(data)
}

// responseCache is a small LRU of server responses keyed by image hash.
// Cached responses are shared and must not be modified.
type responseCache struct {
	mu      sync.Mutex
	size    int
	order   *list.List // front is most recent
	entries map[imageKey]*list.Element
}

type cacheEntry struct {
	key  imageKey
	resp *FaceResponse
}

func newResponseCache(size int) *responseCache {
	return &responseCache{
		size:    size,
		order:   list.New(),
		entries: make(map[imageKey]*list.Element),
	}
}

func (c *responseCache) get(key imageKey) (*FaceResponse, bool) {
	if c.size <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).resp, true
}

func (c *responseCache) put(key imageKey, resp *FaceResponse) {
	if c.size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).resp = resp
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, resp: resp})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *responseCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
