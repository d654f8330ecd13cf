package subscription

import (
	"encoding/base64"
	"fmt"
	"log"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"outway/backend/domain"
)

type subscriptionDoc struct {
	Proxies []yaml.Node `yaml:"proxies"`
}

// Parse 解析订阅文本（纯函数，不做 I/O）。
//
// 接受 Clash 风格 YAML（proxies 列表）；很多机场会把整个文档再包一层
// base64，这里先尝试解包再解析。未知协议类型的条目丢弃并记日志，
// 不算解析失败——对未来新增的协议保持“排除式兼容”。
// 过滤后为空是硬错误。
func Parse(payload string) ([]domain.ProxyNode, error) {
	text := strings.TrimSpace(payload)
	if text == "" {
		return nil, ErrMalformedPayload
	}

	if decoded, ok := tryBase64(text); ok {
		text = decoded
	}

	var doc subscriptionDoc
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(doc.Proxies) == 0 {
		return nil, fmt.Errorf("%w: no proxies section", ErrMalformedPayload)
	}

	nodes := make([]domain.ProxyNode, 0, len(doc.Proxies))
	for i := range doc.Proxies {
		node, err := decodeProxyEntry(&doc.Proxies[i])
		if err != nil {
			return nil, fmt.Errorf("%w: proxy #%d: %v", ErrMalformedPayload, i, err)
		}
		if !node.Type.Supported() {
			log.Printf("[Subscription] 丢弃不支持的节点类型 %q（节点 %q）", node.Type, node.Name)
			continue
		}
		nodes = append(nodes, node)
	}
	if len(nodes) == 0 {
		return nil, ErrNoUsableNodes
	}

	return disambiguateNames(nodes), nil
}

// decodeProxyEntry 把单个 proxies 条目解码成节点。
// 原始键值对按文档顺序完整保留在 Raw 里（含 name/type/server/port），
// 配置生成时由 engine 侧决定哪些字段结构化重发、哪些透传。
func decodeProxyEntry(n *yaml.Node) (domain.ProxyNode, error) {
	if n.Kind != yaml.MappingNode {
		return domain.ProxyNode{}, fmt.Errorf("entry is not a mapping")
	}

	var node domain.ProxyNode
	raw := make(domain.RawConfig, 0, len(n.Content)/2)

	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valNode := n.Content[i], n.Content[i+1]
		key := keyNode.Value

		var val interface{}
		if err := valNode.Decode(&val); err != nil {
			return domain.ProxyNode{}, fmt.Errorf("field %q: %w", key, err)
		}
		raw = append(raw, domain.RawField{Key: key, Value: val})

		switch key {
		case "name":
			node.Name = strings.TrimSpace(stringify(val))
		case "type":
			node.Type = domain.ParseNodeType(stringify(val))
		case "server":
			node.Server = strings.TrimSpace(stringify(val))
		case "port":
			port, err := toPort(val)
			if err != nil {
				return domain.ProxyNode{}, fmt.Errorf("field port: %w", err)
			}
			node.Port = port
		}
	}

	if node.Name == "" {
		node.Name = node.Server
	}
	if node.Name == "" || node.Server == "" || node.Port <= 0 || string(node.Type) == "" {
		return domain.ProxyNode{}, fmt.Errorf("missing name/type/server/port")
	}

	node.Raw = raw
	return node, nil
}

// disambiguateNames 重名节点追加 #2/#3 后缀。
// selector 成员按名字引用，重名会让切换行为不可预测。
func disambiguateNames(nodes []domain.ProxyNode) []domain.ProxyNode {
	seen := make(map[string]int, len(nodes))
	for i := range nodes {
		name := nodes[i].Name
		seen[name]++
		if seen[name] > 1 {
			nodes[i].Name = fmt.Sprintf("%s #%d", name, seen[name])
		}
	}
	return nodes
}

// tryBase64 尝试把整个载荷当 base64 解包（自动补齐 padding）。
// 只有解出来像 YAML 文档时才采信，避免把纯文本误判成 base64。
func tryBase64(text string) (string, bool) {
	cleaned := strings.ReplaceAll(strings.ReplaceAll(text, "\r", ""), "\n", "")
	switch len(cleaned) % 4 {
	case 2:
		cleaned += "=="
	case 3:
		cleaned += "="
	}

	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(cleaned)
	}
	if err != nil {
		return "", false
	}
	decoded := strings.TrimSpace(string(data))
	if !strings.Contains(decoded, "proxies") {
		return "", false
	}
	return decoded, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toPort(v interface{}) (int, error) {
	var port int
	switch t := v.(type) {
	case int:
		port = t
	case float64:
		port = int(t)
	case string:
		p, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("invalid port %q", t)
		}
		port = p
	default:
		return 0, fmt.Errorf("invalid port type %T", v)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port out of range: %d", port)
	}
	return port, nil
}
