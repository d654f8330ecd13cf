package bypass

import (
	"container/list"
	"sync"
	"time"

	"outway/backend/domain"
)

// ipCache 按 IP 缓存地理位置判定结果。
// 独立的互斥锁：分流判定发生在每个出站请求的热路径上，
// 绝不允许被 VPN 启停那把聚合锁挡住。
//
// 淘汰策略：写满时先清掉全部过期条目，仍然满就按插入顺序淘汰
// 最老的一条（不是 LRU——访问不续命）。
type ipCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // 头部最老

	now func() time.Time
}

type ipCacheEntry struct {
	ip         string
	decision   domain.BypassDecision
	insertedAt time.Time
}

func newIPCache(capacity int, ttl time.Duration) *ipCache {
	return &ipCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// get 过期条目视为 miss，顺手删掉。
func (c *ipCache) get(ip string) (domain.BypassDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[ip]
	if !ok {
		return domain.DecisionUnknown, false
	}
	entry := el.Value.(*ipCacheEntry)
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.removeLocked(el)
		return domain.DecisionUnknown, false
	}
	return entry.decision, true
}

func (c *ipCache) put(ip string, decision domain.BypassDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[ip]; ok {
		c.removeLocked(el)
	}

	if c.order.Len() >= c.capacity {
		c.purgeExpiredLocked()
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Front(); oldest != nil {
			c.removeLocked(oldest)
		}
	}

	el := c.order.PushBack(&ipCacheEntry{ip: ip, decision: decision, insertedAt: c.now()})
	c.entries[ip] = el
}

func (c *ipCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *ipCache) purgeExpiredLocked() {
	cutoff := c.now().Add(-c.ttl)
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*ipCacheEntry).insertedAt.Before(cutoff) {
			c.removeLocked(el)
		}
		el = next
	}
}

func (c *ipCache) removeLocked(el *list.Element) {
	delete(c.entries, el.Value.(*ipCacheEntry).ip)
	c.order.Remove(el)
}
