// Package service 聚合编排层：订阅、内核、健康检查、分流、桥接
// 组合成对外的五个操作。聚合状态由单把 RWMutex 保护，读者绝不会
// 看到“节点表换了一半、句柄还是旧的”这类中间态。
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"outway/backend/bridge"
	"outway/backend/bypass"
	"outway/backend/domain"
	"outway/backend/engine"
	"outway/backend/health"
	"outway/backend/nodes"
	"outway/backend/persist"
	"outway/backend/subscription"
)

var (
	ErrAlreadyEnabled = errors.New("vpn already enabled")
	ErrNotEnabled     = errors.New("vpn not enabled")
)

// Config 编排层静态配置。
type Config struct {
	SubscriptionURL string
	SocksPort       int
	StateRoot       string
	HealthInterval  time.Duration
}

// Manager 聚合编排器。
type Manager struct {
	mu sync.RWMutex

	cfg Config

	supervisor *engine.Supervisor
	bridge     *bridge.Bridge
	bypass     *bypass.Checker
	cache      *persist.NodeCacheStore

	// fetch 可替换，测试时注入假订阅源。
	fetch func(ctx context.Context, url string) ([]domain.ProxyNode, error)

	registry   *nodes.Manager
	handle     *engine.Handle
	checker    *health.Checker
	results    map[string]domain.HealthResult
	enabledAt  time.Time
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewManager 装配编排器。启动时读回节点缓存，让 list_nodes 在
// 第一次 enable 之前就有数据可看。
func NewManager(cfg Config, hostStore *bridge.HostProxyStore) *Manager {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = health.DefaultInterval
	}
	m := &Manager{
		cfg:        cfg,
		supervisor: engine.NewSupervisor(cfg.StateRoot),
		bridge:     bridge.NewBridge(hostStore),
		bypass:     bypass.NewChecker(),
		cache:      persist.NewNodeCacheStore(cfg.StateRoot),
		fetch:      subscription.FetchAndParse,
	}

	cached := m.cache.Load()
	m.registry = nodes.NewManager(cached.Nodes)
	if len(cached.Nodes) > 0 {
		log.Printf("[Service] 已载入节点缓存 %d 个（拉取于 %s）", len(cached.Nodes), cached.FetchedAt.Format(time.RFC3339))
	}
	return m
}

// Bypass 暴露分流判定器，供宿主的出站请求路径直接查询。
func (m *Manager) Bypass() *bypass.Checker {
	return m.bypass
}

// Enable 启用代理：拉订阅、起内核、接管宿主代理、首轮探测并选优。
// 任何一步失败都会把已做的部分回滚，不留半启用状态。
func (m *Manager) Enable(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != nil {
		return ErrAlreadyEnabled
	}

	nodeList, err := m.fetch(ctx, m.cfg.SubscriptionURL)
	if err != nil {
		return fmt.Errorf("fetch subscription: %w", err)
	}
	m.persistCache(nodeList)

	configText, err := engine.GenerateConfig(nodeList, m.cfg.SocksPort)
	if err != nil {
		return fmt.Errorf("generate engine config: %w", err)
	}

	handle, err := m.supervisor.Start(ctx, configText, m.cfg.SocksPort)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if err := m.bridge.Activate(m.proxyURL(), m.bypass.NoProxyList()); err != nil {
		handle.Stop()
		return fmt.Errorf("activate proxy bridge: %w", err)
	}

	prober, err := health.NewProber(m.cfg.SocksPort)
	if err != nil {
		_ = m.bridge.Deactivate()
		handle.Stop()
		return fmt.Errorf("init health prober: %w", err)
	}

	m.registry.ReplaceAll(nodeList)
	m.handle = handle
	m.checker = health.NewChecker(prober)
	m.enabledAt = time.Now()

	// 首轮走共享进程串行策略：此刻所有节点都只能经由刚拉起的
	// 这一个本地端点探测，并行探测只会反复测到当前路由。
	m.results = m.checker.ProbeSequential(ctx, handle, m.nodeNames(), "")
	if best, ok := m.registry.SelectBestNode(m.results); ok {
		if err := handle.SwitchNode(ctx, best); err != nil {
			log.Printf("[Service] 切换到最优节点 %q 失败: %v", best, err)
		} else {
			_ = m.registry.SetActive(best)
			log.Printf("[Service] 已选择最优节点 %q（%dms）", best, m.results[best].LatencyMS)
		}
	} else {
		log.Printf("[Service] 首轮探测无健康节点，保持引擎默认路由")
	}

	m.startLoopLocked()
	log.Printf("[Service] 代理已启用 session=%s socks=%d 节点=%d", handle.ID, m.cfg.SocksPort, m.registry.Len())
	return nil
}

// Disable 停用代理：停巡检、还原宿主代理、停内核、清空探测结果。
func (m *Manager) Disable() error {
	m.stopLoop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return ErrNotEnabled
	}

	if err := m.bridge.Deactivate(); err != nil {
		log.Printf("[Service] 还原宿主代理失败: %v", err)
	}
	m.handle.Stop()
	m.handle = nil
	m.checker = nil
	m.results = nil
	log.Printf("[Service] 代理已停用")
	return nil
}

// SwitchNode 手动切换节点。未知名称报错且活动指针不动；
// 内核在跑时先切内核，内核失败同样不动指针。
func (m *Manager) SwitchNode(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.registry.Has(name) {
		return fmt.Errorf("%w: %q", nodes.ErrNodeNotFound, name)
	}
	if m.handle != nil {
		if err := m.handle.SwitchNode(ctx, name); err != nil {
			return fmt.Errorf("switch engine to %q: %w", name, err)
		}
	}
	if err := m.registry.SetActive(name); err != nil {
		return err
	}
	log.Printf("[Service] 已切换到节点 %q", name)
	return nil
}

// Refresh 重新拉取订阅并整表重建节点注册表。
// 内核在跑时，旧配置里的节点集合已过期，必须换配置重启内核，
// 然后对新节点集重新跑一轮探测选优。
func (m *Manager) Refresh(ctx context.Context) error {
	// 先停巡检再进聚合锁，避免与后台轮次互相切引擎。
	m.stopLoop()

	m.mu.Lock()
	defer m.mu.Unlock()

	nodeList, err := m.fetch(ctx, m.cfg.SubscriptionURL)
	if err != nil {
		if m.handle != nil {
			m.startLoopLocked()
		}
		return fmt.Errorf("fetch subscription: %w", err)
	}
	m.persistCache(nodeList)
	m.registry.ReplaceAll(nodeList)

	if m.handle == nil {
		log.Printf("[Service] 订阅已刷新 节点=%d（未启用，不触发探测）", m.registry.Len())
		return nil
	}

	configText, err := engine.GenerateConfig(nodeList, m.cfg.SocksPort)
	if err != nil {
		// 旧内核还在跑，巡检必须跟着恢复，不能让启用态裸奔。
		m.startLoopLocked()
		return fmt.Errorf("generate engine config: %w", err)
	}

	m.handle.Stop()
	handle, err := m.supervisor.Start(ctx, configText, m.cfg.SocksPort)
	if err != nil {
		// 内核没能带着新配置回来：回收启用态，宿主代理立即还原。
		m.handle = nil
		m.checker = nil
		m.results = nil
		if derr := m.bridge.Deactivate(); derr != nil {
			log.Printf("[Service] 还原宿主代理失败: %v", derr)
		}
		return fmt.Errorf("restart engine: %w", err)
	}
	m.handle = handle

	m.results = m.checker.ProbeSequential(ctx, handle, m.nodeNames(), "")
	if best, ok := m.registry.SelectBestNode(m.results); ok {
		if err := handle.SwitchNode(ctx, best); err == nil {
			_ = m.registry.SetActive(best)
		}
	}

	m.startLoopLocked()
	log.Printf("[Service] 订阅已刷新 节点=%d session=%s", m.registry.Len(), handle.ID)
	return nil
}

// AddBypass 运行时加直连后缀；桥接已激活时同步宿主 NoProxy。
func (m *Manager) AddBypass(domainSuffix string) {
	m.bypass.AddDomain(domainSuffix)
	m.syncBridgeNoProxy()
}

// RemoveBypass 运行时移除直连后缀。
func (m *Manager) RemoveBypass(domainSuffix string) {
	m.bypass.RemoveDomain(domainSuffix)
	m.syncBridgeNoProxy()
}

// Status 聚合状态快照。
type Status struct {
	Enabled    bool                           `json:"enabled"`
	SessionID  string                         `json:"sessionId,omitempty"`
	SocksPort  int                            `json:"socksPort"`
	ActiveNode string                         `json:"activeNode,omitempty"`
	NodeCount  int                            `json:"nodeCount"`
	EnabledAt  *time.Time                     `json:"enabledAt,omitempty"`
	Health     map[string]domain.HealthResult `json:"health,omitempty"`
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		SocksPort: m.cfg.SocksPort,
		NodeCount: m.registry.Len(),
	}
	if active, ok := m.registry.Active(); ok {
		st.ActiveNode = active
	}
	if m.handle != nil {
		st.Enabled = true
		st.SessionID = m.handle.ID
		at := m.enabledAt
		st.EnabledAt = &at
		st.Health = make(map[string]domain.HealthResult, len(m.results))
		for k, v := range m.results {
			st.Health[k] = v
		}
	}
	return st
}

// NodeStatus 节点及其最近一次探测结果。
type NodeStatus struct {
	domain.ProxyNode
	Active bool                `json:"active"`
	Health domain.HealthResult `json:"health"`
}

func (m *Manager) ListNodes() []NodeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active, _ := m.registry.Active()
	out := make([]NodeStatus, 0, m.registry.Len())
	for _, n := range m.registry.Nodes() {
		ns := NodeStatus{ProxyNode: n, Active: n.Name == active}
		if r, ok := m.results[n.Name]; ok {
			ns.Health = r
		} else {
			ns.Health = domain.HealthResult{Status: domain.Unknown}
		}
		out = append(out, ns)
	}
	return out
}

// ========== 内部 ==========

func (m *Manager) proxyURL() string {
	return fmt.Sprintf("socks5://127.0.0.1:%d", m.cfg.SocksPort)
}

// nodeNames 调用方须持有 m.mu。
func (m *Manager) nodeNames() []string {
	list := m.registry.Nodes()
	names := make([]string, len(list))
	for i, n := range list {
		names[i] = n.Name
	}
	return names
}

// persistCache 落盘失败只记日志：缓存是参考数据，不阻断主流程。
func (m *Manager) persistCache(nodeList []domain.ProxyNode) {
	cache := domain.NodeCache{FetchedAt: time.Now(), Nodes: nodeList}
	if err := m.cache.Save(cache); err != nil {
		log.Printf("[Service] 写入节点缓存失败: %v", err)
	}
}

// syncBridgeNoProxy 桥接未激活时静默跳过。
func (m *Manager) syncBridgeNoProxy() {
	m.mu.RLock()
	active := m.handle != nil
	m.mu.RUnlock()
	if !active {
		return
	}
	// 直连列表变化不需要重启任何东西，宿主下一次读取即生效。
	if err := m.bridge.UpdateNoProxy(m.bypass.NoProxyList()); err != nil {
		log.Printf("[Service] 同步宿主直连列表失败: %v", err)
	}
}

// startLoopLocked 启动后台巡检；调用方须持有 m.mu 写锁。
func (m *Manager) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.loopCancel = cancel
	m.loopDone = done

	go func() {
		defer close(done)
		health.Loop(ctx, m.cfg.HealthInterval, m.runRound, m.applyResults)
	}()
}

// stopLoop 取消后台巡检并等它退出；未启动时为空操作。
// 必须在不持有 m.mu 的情况下调用：巡检回调要拿写锁。
func (m *Manager) stopLoop() {
	m.mu.Lock()
	cancel := m.loopCancel
	done := m.loopDone
	m.loopCancel = nil
	m.loopDone = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// runRound 一轮后台探测。快照聚合状态后在锁外执行慢操作。
func (m *Manager) runRound(ctx context.Context) map[string]domain.HealthResult {
	m.mu.RLock()
	handle := m.handle
	checker := m.checker
	names := m.nodeNames()
	active, _ := m.registry.Active()
	m.mu.RUnlock()

	if handle == nil || checker == nil || len(names) == 0 {
		return nil
	}
	return checker.ProbeSequential(ctx, handle, names, active)
}

// applyResults 巡检结果回灌：整体覆盖结果表；活动节点不健康时
// 触发故障转移并同步切换内核。
func (m *Manager) applyResults(results map[string]domain.HealthResult) {
	if results == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return
	}
	m.results = results

	active, ok := m.registry.Active()
	if !ok {
		// 还没有活动节点（首轮全不健康的情形），有健康节点就补选。
		if best, selected := m.registry.SelectBestNode(results); selected {
			m.switchActiveLocked(best)
		}
		return
	}
	if r, found := results[active]; found && r.Status == domain.Unhealthy {
		next, selected := m.registry.Failover(results)
		if !selected {
			log.Printf("[Service] 活动节点 %q 不健康且无可用替代", active)
			return
		}
		log.Printf("[Service] 活动节点 %q 不健康，故障转移到 %q", active, next)
		m.switchActiveEngineLocked(next)
	}
}

// switchActiveLocked 选中 name 并切内核；调用方须持有写锁。
func (m *Manager) switchActiveLocked(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.handle.SwitchNode(ctx, name); err != nil {
		log.Printf("[Service] 切换内核到 %q 失败: %v", name, err)
		return
	}
	_ = m.registry.SetActive(name)
}

// switchActiveEngineLocked 故障转移路径：注册表指针已由 Failover
// 更新，这里只负责把内核切过去。
func (m *Manager) switchActiveEngineLocked(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.handle.SwitchNode(ctx, name); err != nil {
		log.Printf("[Service] 故障转移切换内核到 %q 失败: %v", name, err)
	}
}
