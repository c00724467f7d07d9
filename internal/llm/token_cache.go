package llm

import (
	"container/list"
	"sync"
	"time"
)

// TokenCacheConfig configures a TokenCache.
type TokenCacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

type tokenCacheEntry struct {
	key     string
	count   int
	expires time.Time
}

// TokenCache is a size-bounded, TTL-expiring LRU cache mapping prompt text
// to a previously computed token count, avoiding a tokenizer round-trip for
// repeated or overlapping prompts within a conversation.
type TokenCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	ll      *list.List
	items   map[string]*list.Element

	hits   int
	misses int
}

// NewTokenCache constructs a TokenCache with the given bounds.
func NewTokenCache(cfg TokenCacheConfig) *TokenCache {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &TokenCache{
		maxSize: maxSize,
		ttl:     cfg.TTL,
		ll:      list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// Get returns the cached token count for text, promoting it as
// most-recently-used. ok is false on a miss or an expired entry.
func (c *TokenCache) Get(text string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[text]
	if !ok {
		c.misses++
		return 0, false
	}
	entry := el.Value.(*tokenCacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expires) {
		c.ll.Remove(el)
		delete(c.items, text)
		c.misses++
		return 0, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return entry.count, true
}

// Set records the token count for text, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *TokenCache) Set(text string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := time.Time{}
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}
	if el, ok := c.items[text]; ok {
		entry := el.Value.(*tokenCacheEntry)
		entry.count = count
		entry.expires = expires
		c.ll.MoveToFront(el)
		return
	}
	entry := &tokenCacheEntry{key: text, count: count, expires: expires}
	el := c.ll.PushFront(entry)
	c.items[text] = el
	if c.ll.Len() > c.maxSize {
		c.evictOldest()
	}
}

func (c *TokenCache) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.ll.Remove(el)
	entry := el.Value.(*tokenCacheEntry)
	delete(c.items, entry.key)
}

// Size returns the number of entries currently cached.
func (c *TokenCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns cumulative hit/miss counters.
func (c *TokenCache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear empties the cache without resetting hit/miss counters.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element, c.maxSize)
}
