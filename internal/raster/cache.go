package raster

import (
	"context"
	"sync"
)

// CachedReader wraps a SceneReader with an in-memory LRU cache of decoded
// scenes. Scenes are shared between callers and must be treated as read-only.
type CachedReader struct {
	inner SceneReader
	cache *lruCache
}

// NewCachedReader creates a cache decorator holding at most maxScenes scenes.
func NewCachedReader(inner SceneReader, maxScenes int) *CachedReader {
	return &CachedReader{inner: inner, cache: newLRUCache(maxScenes)}
}

func (c *CachedReader) ReadScene(ctx context.Context, id string) (*Scene, error) {
	if s, ok := c.cache.get(id); ok {
		return s, nil
	}
	s, err := c.inner.ReadScene(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.put(id, s)
	return s, nil
}

// lruCache is a thread-safe LRU keyed by scene ID.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	scene *Scene
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (*Scene, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.scene, true
}

func (c *lruCache) put(key string, s *Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.scene = s
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, scene: s}
	c.entries[key] = e
	c.pushFront(e)

	for len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *lruCache) pushFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
