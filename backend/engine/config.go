package engine

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"outway/backend/domain"
)

// SelectorGroup 唯一的 selector 组名。
// 控制接口按这个名字切换当前出口节点。
const SelectorGroup = "OUTWAY"

var ErrZeroNodes = errors.New("cannot generate engine config without nodes")

// 这些字段由 GenerateConfig 结构化重发，透传原始字段时跳过，避免重复。
var structuralKeys = map[string]struct{}{
	"name":   {},
	"type":   {},
	"server": {},
	"port":   {},
}

// GenerateConfig 由节点列表生成内核声明式配置（确定性输出）。
//
// 安全硬约束：入站与控制端口只绑 loopback，allow-lan 永远为 false。
// 路由只有一条 MATCH 兜底规则，全部流量进 selector 组；分流决策
// 不在内核里做（由 bypass 层在宿主出站路径上完成）。
func GenerateConfig(nodes []domain.ProxyNode, socksPort int) (string, error) {
	if len(nodes) == 0 {
		return "", ErrZeroNodes
	}
	if socksPort <= 0 || socksPort > 65534 {
		return "", fmt.Errorf("invalid socks port: %d", socksPort)
	}

	var root yaml.Node
	root.Kind = yaml.MappingNode

	appendScalar(&root, "mode", "rule")
	appendScalar(&root, "log-level", "info")
	appendScalar(&root, "socks-port", socksPort)
	appendScalar(&root, "bind-address", "127.0.0.1")
	appendScalar(&root, "allow-lan", false)
	// 控制端口固定用 socks 端口 +1，同样仅 loopback。
	appendScalar(&root, "external-controller", fmt.Sprintf("127.0.0.1:%d", ControllerPort(socksPort)))

	proxies := &yaml.Node{Kind: yaml.SequenceNode}
	names := make([]string, 0, len(nodes))
	for i := range nodes {
		entry, err := buildProxyEntry(&nodes[i])
		if err != nil {
			return "", fmt.Errorf("node %q: %w", nodes[i].Name, err)
		}
		proxies.Content = append(proxies.Content, entry)
		names = append(names, nodes[i].Name)
	}
	appendNode(&root, "proxies", proxies)

	group := &yaml.Node{Kind: yaml.MappingNode}
	appendScalar(group, "name", SelectorGroup)
	appendScalar(group, "type", "select")
	appendAny(group, "proxies", names)
	groups := &yaml.Node{Kind: yaml.SequenceNode, Content: []*yaml.Node{group}}
	appendNode(&root, "proxy-groups", groups)

	appendAny(&root, "rules", []string{"MATCH," + SelectorGroup})

	out, err := yaml.Marshal(&root)
	if err != nil {
		return "", fmt.Errorf("marshal engine config: %w", err)
	}
	return string(out), nil
}

// ControllerPort 控制接口端口（约定 socks 端口 +1）。
func ControllerPort(socksPort int) int {
	return socksPort + 1
}

// buildProxyEntry 重建单个节点：name/type/server/port 结构化输出，
// 其余协议相关字段按订阅原顺序透传（snake_case 翻译成 kebab-case）。
func buildProxyEntry(node *domain.ProxyNode) (*yaml.Node, error) {
	entry := &yaml.Node{Kind: yaml.MappingNode}
	appendScalar(entry, "name", node.Name)
	appendScalar(entry, "type", string(node.Type))
	appendScalar(entry, "server", node.Server)
	appendScalar(entry, "port", node.Port)

	for _, f := range node.Raw {
		if _, ok := structuralKeys[f.Key]; ok {
			continue
		}
		if err := appendAny(entry, translateKey(f.Key), f.Value); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
	}
	return entry, nil
}

// translateKey 订阅里偶见 snake_case 字段名；内核配置统一 kebab-case。
func translateKey(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func appendScalar(m *yaml.Node, key string, value interface{}) {
	_ = appendAny(m, key, value)
}

func appendAny(m *yaml.Node, key string, value interface{}) error {
	var vn yaml.Node
	if err := vn.Encode(value); err != nil {
		return err
	}
	appendNode(m, key, &vn)
	return nil
}

func appendNode(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value,
	)
}
