package service

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache holds fitted surfaces per (symbol, type, chain version). Concurrent
// requests for a key share one fit; completed fits are kept in a bounded
// map evicted oldest first.
type Cache struct {
	group   singleflight.Group
	mu      sync.Mutex
	size    int
	entries map[string]*Surface
	order   []string
}

func NewCache(size int) *Cache {
	if size < 1 {
		size = 1
	}
	return &Cache{size: size, entries: make(map[string]*Surface)}
}

func cacheKey(symbol, option, version string) string {
	return symbol + "|" + option + "|" + version
}

// Do returns the cached surface for key or runs fit, once, for all callers
// waiting on key. The fit runs on a context detached from any one caller,
// so a cancelled request only stops its own wait. Failed fits are not cached.
func (c *Cache) Do(ctx context.Context, key string, fit func(context.Context) (*Surface, error)) (*Surface, error) {
	if s, ok := c.get(key); ok {
		return s, nil
	}
	fitCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if s, ok := c.get(key); ok {
			return s, nil
		}
		s, err := fit(fitCtx)
		if err != nil {
			return nil, err
		}
		c.put(key, s)
		return s, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Surface), nil
	}
}

// Len is the number of cached surfaces.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) get(key string) (*Surface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	return s, ok
}

func (c *Cache) put(key string, s *Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = s
		return
	}
	for len(c.order) >= c.size {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[key] = s
	c.order = append(c.order, key)
}
