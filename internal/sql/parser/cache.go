package parser

import (
	"container/list"
	"sync"
)

const DefaultCacheSize = 512

// Cache is an LRU of statement text to parsed command templates. Bind always
// clones before substitution, so cached templates are never mutated.
type Cache struct {
	mu   sync.Mutex
	cap  int
	ents map[string]*list.Element
	lru  *list.List
}

type cacheEntry struct {
	text string
	cmd  Command
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		cap:  capacity,
		ents: make(map[string]*list.Element),
		lru:  list.New(),
	}
}

// Parse returns the bound command for text, consulting the template cache.
func (c *Cache) Parse(text string, params map[string]any) Command {
	c.mu.Lock()
	if elem, ok := c.ents[text]; ok {
		c.lru.MoveToFront(elem)
		tmpl := elem.Value.(*cacheEntry).cmd
		c.mu.Unlock()
		return *Bind(&tmpl, params)
	}
	c.mu.Unlock()

	tmpl := parseStatement(text)
	if tmpl.Kind != KindError && tmpl.Kind != KindEmpty {
		c.mu.Lock()
		if _, ok := c.ents[text]; !ok {
			elem := c.lru.PushFront(&cacheEntry{text: text, cmd: tmpl})
			c.ents[text] = elem
			for c.lru.Len() > c.cap {
				back := c.lru.Back()
				delete(c.ents, back.Value.(*cacheEntry).text)
				c.lru.Remove(back)
			}
		}
		c.mu.Unlock()
	}
	return *Bind(&tmpl, params)
}
