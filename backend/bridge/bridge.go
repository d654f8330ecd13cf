package bridge

import (
	"errors"
	"log"
	"strings"
	"sync"

	"outway/backend/domain"
)

var (
	ErrAlreadyActive = errors.New("proxy bridge already active")
	ErrNotActive     = errors.New("proxy bridge not active")
)

// Bridge 接管宿主共享代理配置，停用时原样恢复。
// snapshot 非 nil 即表示已接管，作为激活标志使用。
type Bridge struct {
	mu       sync.Mutex
	store    *HostProxyStore
	snapshot *domain.HostProxyConfig
}

func NewBridge(store *HostProxyStore) *Bridge {
	return &Bridge{store: store}
}

// Active 是否已接管。
func (b *Bridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot != nil
}

// Activate 快照当前宿主配置后写入托管代理。
// NoProxy 合并去重（大小写不敏感），既有条目在前。重复激活报错。
func (b *Bridge) Activate(proxyURL string, noProxy []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot != nil {
		return ErrAlreadyActive
	}

	prev := b.store.Get()
	b.snapshot = &prev

	next := domain.HostProxyConfig{
		Enabled:  true,
		ProxyURL: proxyURL,
		NoProxy:  mergeNoProxy(prev.NoProxy, noProxy),
		Scope:    domain.ScopeGlobal,
	}
	b.store.Replace(next)
	log.Printf("[Bridge] 已接管宿主代理配置 proxy=%s noProxy=%d 条", proxyURL, len(next.NoProxy))
	return nil
}

// Deactivate 恢复激活时的快照。未激活时报错。
func (b *Bridge) Deactivate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return ErrNotActive
	}
	b.store.Replace(*b.snapshot)
	b.snapshot = nil
	log.Printf("[Bridge] 已恢复宿主代理配置")
	return nil
}

// UpdateProxyURL 仅更新代理地址，其余字段不动。未激活时报错。
func (b *Bridge) UpdateProxyURL(proxyURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return ErrNotActive
	}
	cfg := b.store.Get()
	cfg.ProxyURL = proxyURL
	b.store.Replace(cfg)
	return nil
}

// UpdateNoProxy 用快照里的原有条目加上新的直连列表重算 NoProxy。
// 直连后缀运行时增删后调用。未激活时报错。
func (b *Bridge) UpdateNoProxy(noProxy []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return ErrNotActive
	}
	cfg := b.store.Get()
	cfg.NoProxy = mergeNoProxy(b.snapshot.NoProxy, noProxy)
	b.store.Replace(cfg)
	return nil
}

// mergeNoProxy 既有条目保持原序在前，新增条目按给定顺序补在后面。
// 去重大小写不敏感，保留首次出现时的写法。
func mergeNoProxy(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, group := range [][]string{existing, added} {
		for _, entry := range group {
			key := strings.ToLower(strings.TrimSpace(entry))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, entry)
		}
	}
	return out
}
