package cache

import (
	"strings"
	"sync"
	"time"

	"numix-engine/internal/clock"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// TTLCache 讀取路徑用的短期快取，過期項目在 Get 時被移除。
// 寫入路徑不可以依賴它判斷配額。
type TTLCache[V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clock.Clock
	items map[string]entry[V]
}

func NewTTLCache[V any](ttl time.Duration, clk clock.Clock) *TTLCache[V] {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &TTLCache[V]{
		ttl:   ttl,
		clock: clk,
		items: make(map[string]entry[V]),
	}
}

func (c *TTLCache[V]) expired(e entry[V], now time.Time) bool {
	return now.Sub(e.insertedAt) > c.ttl
}

// Get 取得未過期的值
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.expired(e, c.clock.Now()) {
		delete(c.items, key)
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, insertedAt: c.clock.Now()}
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// DeletePrefix 移除所有以 prefix 開頭的 key，回傳移除數量
func (c *TTLCache[V]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Purge 清除所有過期項目
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, e := range c.items {
		if c.expired(e, now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
