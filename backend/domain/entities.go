package domain

import (
	"strings"
	"time"
)

// NodeType 节点协议类型。
// 闭集之外的值一律保留原始标签（开放枚举）：解析层决定是否丢弃，
// 这里不做白名单裁剪。
type NodeType string

const (
	NodeVMess       NodeType = "vmess"
	NodeVLESS       NodeType = "vless"
	NodeTrojan      NodeType = "trojan"
	NodeShadowsocks NodeType = "ss"
	NodeHTTP        NodeType = "http"
	NodeSOCKS5      NodeType = "socks5"
)

// ParseNodeType 归一化订阅里的 type 字段。
// 常见别名（shadowsocks / socks）折叠到标准值；未知类型原样保留。
func ParseNodeType(raw string) NodeType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "vmess":
		return NodeVMess
	case "vless":
		return NodeVLESS
	case "trojan":
		return NodeTrojan
	case "ss", "shadowsocks":
		return NodeShadowsocks
	case "http":
		return NodeHTTP
	case "socks5", "socks":
		return NodeSOCKS5
	default:
		return NodeType(strings.TrimSpace(raw))
	}
}

// Supported 报告该类型是否在受支持的闭集内。
func (t NodeType) Supported() bool {
	switch t {
	case NodeVMess, NodeVLESS, NodeTrojan, NodeShadowsocks, NodeHTTP, NodeSOCKS5:
		return true
	default:
		return false
	}
}

// RawField 订阅条目里的一个原始键值对（保序）。
type RawField struct {
	Key   string      `json:"k"`
	Value interface{} `json:"v"`
}

// RawConfig 订阅条目的原始配置文档。
// 不展开成强类型 union：协议相关字段原样透传给内核配置生成，
// 字段校验完全交给外部内核。顺序保留，回写时保持订阅原貌。
type RawConfig []RawField

// Get 按 key 查找（首个命中）。
func (c RawConfig) Get(key string) (interface{}, bool) {
	for _, f := range c {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// ProxyNode 一个远端中继节点。
// 以 Name 作为唯一标识；刷新订阅时整表替换，从不按字段 patch。
type ProxyNode struct {
	Name   string    `json:"name"`
	Type   NodeType  `json:"type"`
	Server string    `json:"server"`
	Port   int       `json:"port"`
	Raw    RawConfig `json:"raw,omitempty"`
}

// HealthStatus 节点健康状态。
// Unknown 只表示“还没测过”；探测失败一律记 Unhealthy。
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
	Unknown   HealthStatus = "unknown"
)

// HealthResult 单节点一轮探测的结果；每轮整体覆盖，从不持久化。
type HealthResult struct {
	Status    HealthStatus `json:"status"`
	LatencyMS int64        `json:"latencyMs,omitempty"` // 仅 Healthy 时有效
	CheckedAt time.Time    `json:"checkedAt"`
}

// BypassDecision 单个目标的分流决策。
type BypassDecision string

const (
	DecisionBypass  BypassDecision = "bypass"  // 直连，不走代理
	DecisionProxy   BypassDecision = "proxy"   // 走托管代理
	DecisionUnknown BypassDecision = "unknown" // 信息不足，调用方自行兜底
)

// ProxyScope 宿主共享代理配置的作用范围。
type ProxyScope string

const (
	ScopeGlobal ProxyScope = "global"
)

// HostProxyConfig 宿主应用共享的出站代理配置。
// 读者拿到的是完整拷贝，写者整体替换——见 bridge.HostProxyStore。
type HostProxyConfig struct {
	Enabled  bool       `json:"enabled"`
	ProxyURL string     `json:"proxyUrl,omitempty"`
	NoProxy  []string   `json:"noProxy,omitempty"`
	Scope    ProxyScope `json:"scope,omitempty"`
}

// Clone 深拷贝（NoProxy 是唯一的引用字段）。
func (c HostProxyConfig) Clone() HostProxyConfig {
	out := c
	if c.NoProxy != nil {
		out.NoProxy = append([]string(nil), c.NoProxy...)
	}
	return out
}

// NodeCache 成功拉取订阅后落盘的节点缓存文档。
// 缓存只是参考数据：缺失或损坏降级为“无缓存”，绝不硬失败。
type NodeCache struct {
	FetchedAt time.Time   `json:"fetchedAt"`
	Nodes     []ProxyNode `json:"nodes"`
}
