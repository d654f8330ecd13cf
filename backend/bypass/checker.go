package bypass

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"outway/backend/domain"
)

const (
	ipCacheCapacity = 10000
	ipCacheTTL      = 24 * time.Hour
)

// builtinSuffixes 常见国内站点，启用时的默认直连集合。
var builtinSuffixes = []string{
	"baidu.com",
	"qq.com",
	"taobao.com",
	"jd.com",
	"weibo.com",
	"zhihu.com",
	"bilibili.com",
	"aliyun.com",
	"163.com",
	"cn",
}

// Checker 直连判定：域名后缀集合 + IP 归属地缓存。
// 域名集合由 RWMutex 保护，IP 缓存自带锁，两把锁互不嵌套。
type Checker struct {
	mu       sync.RWMutex
	suffixes map[string]struct{}

	cache *ipCache
	geo   *geoClient
	group singleflight.Group
}

func NewChecker() *Checker {
	c := &Checker{
		suffixes: make(map[string]struct{}, len(builtinSuffixes)),
		cache:    newIPCache(ipCacheCapacity, ipCacheTTL),
		geo:      newGeoClient(defaultGeoEndpoint),
	}
	for _, s := range builtinSuffixes {
		c.suffixes[s] = struct{}{}
	}
	return c
}

// SetGeoEndpoint 替换归属地查询地址，测试用。
func (c *Checker) SetGeoEndpoint(baseURL string) {
	c.geo = newGeoClient(baseURL)
}

// NormalizeSuffix 统一三种写法："*.x"、".x"、"x" 都归一成小写裸后缀。
// 幂等：归一结果再归一不变。
func NormalizeSuffix(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "*.")
	s = strings.TrimPrefix(s, ".")
	return s
}

// AddDomain 加入直连后缀，重复加入无副作用。
func (c *Checker) AddDomain(raw string) {
	s := NormalizeSuffix(raw)
	if s == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suffixes[s] = struct{}{}
}

// RemoveDomain 移除后缀，不存在时静默。
func (c *Checker) RemoveDomain(raw string) {
	s := NormalizeSuffix(raw)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.suffixes, s)
}

// CheckDomain 域名命中任一后缀（全等或点边界后缀）即直连。
func (c *Checker) CheckDomain(host string) domain.BypassDecision {
	if c.matchDomain(host) {
		return domain.DecisionBypass
	}
	return domain.DecisionProxy
}

func (c *Checker) matchDomain(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if h == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for s := range c.suffixes {
		if h == s || strings.HasSuffix(h, "."+s) {
			return true
		}
	}
	return false
}

// CheckIP 先查缓存，未命中走归属地查询。
// singleflight 合并同一 IP 的并发查询；Unknown 不落缓存，下次还能重试。
func (c *Checker) CheckIP(ctx context.Context, ip string) domain.BypassDecision {
	if ip == "" {
		return domain.DecisionUnknown
	}
	if d, ok := c.cache.get(ip); ok {
		return d
	}

	v, _, _ := c.group.Do(ip, func() (interface{}, error) {
		if d, ok := c.cache.get(ip); ok {
			return d, nil
		}
		d := c.geo.lookup(ctx, ip)
		if d != domain.DecisionUnknown {
			c.cache.put(ip, d)
		}
		return d, nil
	})
	return v.(domain.BypassDecision)
}

// ShouldBypass 域名优先：后缀命中直接直连；否则看 IP 归属地。
// 域名未命中且没有 IP（或查询失败）返回 Unknown，
// 兜底策略留给调用方，这里不替它折叠成二选一。
func (c *Checker) ShouldBypass(ctx context.Context, host, ip string) domain.BypassDecision {
	if c.matchDomain(host) {
		return domain.DecisionBypass
	}
	return c.CheckIP(ctx, ip)
}

// NoProxyList 返回 "*.后缀" 形式的直连列表，排序后稳定输出。
func (c *Checker) NoProxyList() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.suffixes))
	for s := range c.suffixes {
		out = append(out, "*."+s)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}
