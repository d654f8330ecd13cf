// Package bridge 把托管代理接入宿主应用的共享代理配置。
package bridge

import (
	"sync"

	"outway/backend/domain"
)

// HostProxyStore 宿主共享代理配置的唯一持有者。
// 读者拿整体拷贝，写者整体替换，不暴露内部指针。
type HostProxyStore struct {
	mu  sync.RWMutex
	cfg domain.HostProxyConfig
}

func NewHostProxyStore() *HostProxyStore {
	return &HostProxyStore{}
}

// Get 返回当前配置的深拷贝。
func (s *HostProxyStore) Get() domain.HostProxyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Replace 整体替换配置。
func (s *HostProxyStore) Replace(cfg domain.HostProxyConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Clone()
}
