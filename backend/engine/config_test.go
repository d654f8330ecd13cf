package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"outway/backend/domain"
)

func testNodes(n int) []domain.ProxyNode {
	nodes := make([]domain.ProxyNode, 0, n)
	for i := 0; i < n; i++ {
		nodes = append(nodes, domain.ProxyNode{
			Name:   fmt.Sprintf("node-%d", i),
			Type:   domain.NodeShadowsocks,
			Server: fmt.Sprintf("s%d.example.com", i),
			Port:   8388 + i,
			Raw: domain.RawConfig{
				{Key: "name", Value: fmt.Sprintf("node-%d", i)},
				{Key: "type", Value: "ss"},
				{Key: "server", Value: fmt.Sprintf("s%d.example.com", i)},
				{Key: "port", Value: 8388 + i},
				{Key: "cipher", Value: "aes-256-gcm"},
				{Key: "password", Value: "secret"},
				{Key: "skip_cert_verify", Value: true},
			},
		})
	}
	return nodes
}

type generatedConfig struct {
	SocksPort          int                      `yaml:"socks-port"`
	BindAddress        string                   `yaml:"bind-address"`
	AllowLan           bool                     `yaml:"allow-lan"`
	ExternalController string                   `yaml:"external-controller"`
	Proxies            []map[string]interface{} `yaml:"proxies"`
	ProxyGroups        []struct {
		Name    string   `yaml:"name"`
		Type    string   `yaml:"type"`
		Proxies []string `yaml:"proxies"`
	} `yaml:"proxy-groups"`
	Rules []string `yaml:"rules"`
}

func mustGenerate(t *testing.T, n int) generatedConfig {
	t.Helper()
	text, err := GenerateConfig(testNodes(n), 7890)
	if err != nil {
		t.Fatalf("GenerateConfig() error: %v", err)
	}
	var cfg generatedConfig
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		t.Fatalf("generated config is not valid yaml: %v\n%s", err, text)
	}
	return cfg
}

func TestGenerateConfig_OneSelectorNamingAllNodes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 3, 10} {
		cfg := mustGenerate(t, n)
		if len(cfg.ProxyGroups) != 1 {
			t.Fatalf("n=%d: expected exactly 1 proxy group, got %d", n, len(cfg.ProxyGroups))
		}
		g := cfg.ProxyGroups[0]
		if g.Name != SelectorGroup || g.Type != "select" {
			t.Errorf("n=%d: group = %s/%s", n, g.Name, g.Type)
		}
		if len(g.Proxies) != n {
			t.Errorf("n=%d: selector names %d members", n, len(g.Proxies))
		}
	}
}

func TestGenerateConfig_SingleCatchAllRule(t *testing.T) {
	t.Parallel()

	cfg := mustGenerate(t, 3)
	if len(cfg.Rules) != 1 || cfg.Rules[0] != "MATCH,"+SelectorGroup {
		t.Fatalf("rules = %v", cfg.Rules)
	}
}

func TestGenerateConfig_LoopbackOnly(t *testing.T) {
	t.Parallel()

	cfg := mustGenerate(t, 2)
	if cfg.BindAddress != "127.0.0.1" {
		t.Fatalf("bind-address = %q", cfg.BindAddress)
	}
	if cfg.AllowLan {
		t.Fatal("allow-lan must stay false")
	}
	if !strings.HasPrefix(cfg.ExternalController, "127.0.0.1:") {
		t.Fatalf("external-controller = %q", cfg.ExternalController)
	}

	text, _ := GenerateConfig(testNodes(2), 7890)
	if strings.Contains(text, "0.0.0.0") {
		t.Fatalf("config binds all interfaces:\n%s", text)
	}
}

func TestGenerateConfig_RawPassthroughTranslatesKeys(t *testing.T) {
	t.Parallel()

	cfg := mustGenerate(t, 1)
	p := cfg.Proxies[0]

	if p["cipher"] != "aes-256-gcm" || p["password"] != "secret" {
		t.Errorf("raw fields lost: %v", p)
	}
	if v, ok := p["skip-cert-verify"]; !ok || v != true {
		t.Errorf("snake_case key not translated: %v", p)
	}
	if _, ok := p["skip_cert_verify"]; ok {
		t.Error("untranslated key leaked into config")
	}
	// 结构化字段只出现一次（透传没有重复发射）。
	if p["server"] != "s0.example.com" || p["port"] != 8388 {
		t.Errorf("structural fields wrong: %v", p)
	}
}

func TestGenerateConfig_ZeroNodesFails(t *testing.T) {
	t.Parallel()

	if _, err := GenerateConfig(nil, 7890); !errors.Is(err, ErrZeroNodes) {
		t.Fatalf("expected ErrZeroNodes, got %v", err)
	}
}

func TestGenerateConfig_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := GenerateConfig(testNodes(5), 7890)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateConfig(testNodes(5), 7890)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("generation is not deterministic")
	}
}
