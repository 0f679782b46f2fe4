package license

import (
	"strings"
	"sync"
	"time"

	storemodel "quantx/internal/store/model"
)

// accessCache 缓存最近一次校验通过的许可快照，减少热路径上的数据库读。
// 条目按需惰性过期，后写覆盖先写。
type accessCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	ttl  time.Duration
}

type cacheEntry struct {
	license  storemodel.License
	cachedAt time.Time
}

func newAccessCache(ttl time.Duration) *accessCache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &accessCache{data: make(map[string]cacheEntry), ttl: ttl}
}

func accessKey(key, device string) string {
	return strings.ToUpper(strings.TrimSpace(key)) + ":" + strings.TrimSpace(device)
}

func deviceKey(device string) string {
	return "dev:" + strings.TrimSpace(device)
}

func (c *accessCache) get(cacheKey string, now time.Time) (storemodel.License, bool) {
	if c == nil {
		return storemodel.License{}, false
	}
	c.mu.RLock()
	entry, ok := c.data[cacheKey]
	c.mu.RUnlock()
	if !ok {
		return storemodel.License{}, false
	}
	if now.Sub(entry.cachedAt) > c.ttl {
		c.mu.Lock()
		// 重查一次，避免删除并发写入的新条目。
		if cur, still := c.data[cacheKey]; still && now.Sub(cur.cachedAt) > c.ttl {
			delete(c.data, cacheKey)
		}
		c.mu.Unlock()
		return storemodel.License{}, false
	}
	return entry.license, true
}

func (c *accessCache) put(cacheKey string, lic storemodel.License, now time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.data[cacheKey] = cacheEntry{license: lic, cachedAt: now}
	c.mu.Unlock()
}

func (c *accessCache) invalidate(cacheKey string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.data, cacheKey)
	c.mu.Unlock()
}
