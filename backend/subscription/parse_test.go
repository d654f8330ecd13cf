package subscription

import (
	"encoding/base64"
	"errors"
	"testing"

	"outway/backend/domain"
)

const fixtureThreeNodes = `
proxies:
  - name: "HK-01"
    type: vmess
    server: hk1.example.com
    port: 443
    uuid: 23ad6b10-8d1a-40f7-8ad0-e3e35cd38297
    alterId: 0
    cipher: auto
    tls: true
    servername: hk1.example.com
  - name: "JP-02"
    type: trojan
    server: jp2.example.com
    port: 8443
    password: trojan-pass
    sni: jp2.example.com
    skip_cert_verify: true
  - name: "SG-03"
    type: ss
    server: sg3.example.com
    port: 8388
    cipher: aes-256-gcm
    password: ss-pass
  - name: "未来协议"
    type: wormhole
    server: wh.example.com
    port: 9999
`

func TestParse_FixtureThreeNodesDropsUnknownType(t *testing.T) {
	t.Parallel()

	nodes, err := Parse(fixtureThreeNodes)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}

	want := []struct {
		name   string
		typ    domain.NodeType
		server string
		port   int
	}{
		{"HK-01", domain.NodeVMess, "hk1.example.com", 443},
		{"JP-02", domain.NodeTrojan, "jp2.example.com", 8443},
		{"SG-03", domain.NodeShadowsocks, "sg3.example.com", 8388},
	}
	for i, w := range want {
		n := nodes[i]
		if n.Name != w.name || n.Type != w.typ || n.Server != w.server || n.Port != w.port {
			t.Errorf("node %d = %q/%s/%s:%d, want %q/%s/%s:%d",
				i, n.Name, n.Type, n.Server, n.Port, w.name, w.typ, w.server, w.port)
		}
	}
}

func TestParse_RawConfigPreservesOrderAndExtras(t *testing.T) {
	t.Parallel()

	nodes, err := Parse(fixtureThreeNodes)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	raw := nodes[0].Raw
	wantKeys := []string{"name", "type", "server", "port", "uuid", "alterId", "cipher", "tls", "servername"}
	if len(raw) != len(wantKeys) {
		t.Fatalf("raw fields = %d, want %d", len(raw), len(wantKeys))
	}
	for i, k := range wantKeys {
		if raw[i].Key != k {
			t.Errorf("raw[%d].Key = %q, want %q", i, raw[i].Key, k)
		}
	}
	if v, ok := raw.Get("uuid"); !ok || v != "23ad6b10-8d1a-40f7-8ad0-e3e35cd38297" {
		t.Errorf("raw uuid = %v (ok=%v)", v, ok)
	}
}

func TestParse_Base64WrappedPayload(t *testing.T) {
	t.Parallel()

	encoded := base64.StdEncoding.EncodeToString([]byte(fixtureThreeNodes))
	nodes, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse(base64) error: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
}

func TestParse_AllUnknownTypesIsHardError(t *testing.T) {
	t.Parallel()

	payload := `
proxies:
  - name: a
    type: wormhole
    server: a.example.com
    port: 1
`
	if _, err := Parse(payload); !errors.Is(err, ErrNoUsableNodes) {
		t.Fatalf("expected ErrNoUsableNodes, got %v", err)
	}
}

func TestParse_MalformedPayload(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":        "",
		"not yaml":     "{{{{",
		"no proxies":   "rules: []",
		"missing port": "proxies:\n  - name: a\n    type: ss\n    server: s",
	}
	for name, payload := range cases {
		payload := payload
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse(payload); !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestParse_DuplicateNamesDisambiguated(t *testing.T) {
	t.Parallel()

	payload := `
proxies:
  - name: dup
    type: ss
    server: a.example.com
    port: 1
    cipher: aes-128-gcm
    password: p
  - name: dup
    type: ss
    server: b.example.com
    port: 2
    cipher: aes-128-gcm
    password: p
`
	nodes, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if nodes[0].Name != "dup" || nodes[1].Name != "dup #2" {
		t.Fatalf("names = %q, %q", nodes[0].Name, nodes[1].Name)
	}
}
