package nodes

import (
	"errors"

	"outway/backend/domain"
)

var ErrNodeNotFound = errors.New("node not found")

// Manager 内存节点注册表 + 活动节点指针。
// 纯同步、无锁：并发保护由上层（service.Manager 的聚合锁）负责，
// 这里只做选择/故障转移的纯逻辑。
type Manager struct {
	nodes  []domain.ProxyNode
	active string
}

func NewManager(nodes []domain.ProxyNode) *Manager {
	m := &Manager{}
	m.ReplaceAll(nodes)
	return m
}

// ReplaceAll 整表替换（刷新订阅时用），从不按字段 patch。
// 原活动节点在新列表里消失时清空指针，不让它悬空。
func (m *Manager) ReplaceAll(nodes []domain.ProxyNode) {
	m.nodes = append([]domain.ProxyNode(nil), nodes...)
	if m.active != "" && !m.Has(m.active) {
		m.active = ""
	}
}

// Nodes 返回列表拷贝（注册表保持不可变语义）。
func (m *Manager) Nodes() []domain.ProxyNode {
	return append([]domain.ProxyNode(nil), m.nodes...)
}

func (m *Manager) Len() int { return len(m.nodes) }

func (m *Manager) Has(name string) bool {
	for i := range m.nodes {
		if m.nodes[i].Name == name {
			return true
		}
	}
	return false
}

// Active 当前活动节点名。
func (m *Manager) Active() (string, bool) {
	if m.active == "" {
		return "", false
	}
	return m.active, true
}

// SetActive 只校验存在性，不看健康状态。
func (m *Manager) SetActive(name string) error {
	if !m.Has(name) {
		return ErrNodeNotFound
	}
	m.active = name
	return nil
}

// SelectBestNode 在一轮结果里选延迟最小的 Healthy 节点；无副作用。
// 按注册表顺序遍历 + 严格小于比较：延迟相同保留先出现的
// （稳定顺序，不发明额外的并列裁决规则）。
func (m *Manager) SelectBestNode(results map[string]domain.HealthResult) (string, bool) {
	return m.selectBest(results, "")
}

// Failover 同 SelectBestNode，但排除当前活动节点；
// 选中后顺手更新活动指针——这是注册表唯一的变更型选择操作。
func (m *Manager) Failover(results map[string]domain.HealthResult) (string, bool) {
	best, ok := m.selectBest(results, m.active)
	if !ok {
		return "", false
	}
	m.active = best
	return best, true
}

func (m *Manager) selectBest(results map[string]domain.HealthResult, exclude string) (string, bool) {
	best := ""
	var bestLatency int64
	for i := range m.nodes {
		name := m.nodes[i].Name
		if name == exclude {
			continue
		}
		r, ok := results[name]
		if !ok || r.Status != domain.Healthy || r.LatencyMS <= 0 {
			continue
		}
		if best == "" || r.LatencyMS < bestLatency {
			best = name
			bestLatency = r.LatencyMS
		}
	}
	return best, best != ""
}
