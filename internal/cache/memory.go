package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/bassista/go_tilecache/internal/tile"
)

// MemoryCache keeps the most recently used tiles in process memory.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	bytes    int64
}

// NewMemoryCache creates an LRU cache holding at most capacity tiles.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func cloneTile(ct *tile.CacheTile) *tile.CacheTile {
	c := *ct
	c.Img = append([]byte(nil), ct.Img...)
	return &c
}

func (c *MemoryCache) Get(_ context.Context, hash string) (*tile.CacheTile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[hash]
	if !ok {
		return nil, ErrMiss
	}
	c.ll.MoveToFront(el)
	return cloneTile(el.Value.(*tile.CacheTile)), nil
}

func (c *MemoryCache) Put(_ context.Context, ct *tile.CacheTile) error {
	if ct == nil || ct.Hash == "" || !ct.HasPayload() {
		return nil
	}
	entry := cloneTile(ct)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[ct.Hash]; ok {
		c.bytes += entry.Size() - el.Value.(*tile.CacheTile).Size()
		el.Value = entry
		c.ll.MoveToFront(el)
		return nil
	}
	c.items[ct.Hash] = c.ll.PushFront(entry)
	c.bytes += entry.Size()
	for c.ll.Len() > c.capacity {
		c.removeElement(c.ll.Back())
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, hashes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range hashes {
		if el, ok := c.items[h]; ok {
			c.removeElement(el)
		}
	}
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element, c.capacity)
	c.bytes = 0
	return nil
}

func (c *MemoryCache) removeElement(el *list.Element) {
	ct := c.ll.Remove(el).(*tile.CacheTile)
	delete(c.items, ct.Hash)
	c.bytes -= ct.Size()
}

// Len returns the number of cached tiles.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Bytes returns the payload bytes held.
func (c *MemoryCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *MemoryCache) Close() error { return nil }
