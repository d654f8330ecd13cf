package bridge

import (
	"errors"
	"reflect"
	"testing"

	"outway/backend/domain"
)

func TestActivateMergesNoProxy(t *testing.T) {
	t.Parallel()

	store := NewHostProxyStore()
	store.Replace(domain.HostProxyConfig{
		Enabled: false,
		NoProxy: []string{"localhost"},
	})
	b := NewBridge(store)

	if err := b.Activate("socks5://127.0.0.1:7890", []string{"*.baidu.com", "*.qq.com", "LOCALHOST"}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	got := store.Get()
	if !got.Enabled {
		t.Fatal("激活后 Enabled 应为 true")
	}
	if got.ProxyURL != "socks5://127.0.0.1:7890" {
		t.Fatalf("ProxyURL = %q", got.ProxyURL)
	}
	if got.Scope != domain.ScopeGlobal {
		t.Fatalf("Scope = %q", got.Scope)
	}
	// 既有条目在前，新增条目在后，大小写不敏感去重
	want := []string{"localhost", "*.baidu.com", "*.qq.com"}
	if !reflect.DeepEqual(got.NoProxy, want) {
		t.Fatalf("NoProxy = %v, want %v", got.NoProxy, want)
	}
}

func TestDeactivateRestoresSnapshot(t *testing.T) {
	t.Parallel()

	original := domain.HostProxyConfig{
		Enabled:  true,
		ProxyURL: "http://corp-proxy:8080",
		NoProxy:  []string{"localhost", "10.0.0.0/8"},
		Scope:    domain.ScopeGlobal,
	}
	store := NewHostProxyStore()
	store.Replace(original)
	b := NewBridge(store)

	if err := b.Activate("socks5://127.0.0.1:7890", []string{"*.cn"}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := b.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	got := store.Get()
	if !reflect.DeepEqual(got, original) {
		t.Fatalf("恢复后配置不一致:\n got  %+v\n want %+v", got, original)
	}
	if b.Active() {
		t.Fatal("停用后不应再处于激活态")
	}
}

func TestDoubleActivateAndDeactivate(t *testing.T) {
	t.Parallel()

	b := NewBridge(NewHostProxyStore())

	if err := b.Deactivate(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("未激活时 Deactivate = %v, want ErrNotActive", err)
	}
	if err := b.Activate("socks5://127.0.0.1:7890", nil); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := b.Activate("socks5://127.0.0.1:7891", nil); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("重复 Activate = %v, want ErrAlreadyActive", err)
	}
	if err := b.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := b.Deactivate(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("重复 Deactivate = %v, want ErrNotActive", err)
	}
}

func TestUpdateNoProxy(t *testing.T) {
	t.Parallel()

	store := NewHostProxyStore()
	store.Replace(domain.HostProxyConfig{NoProxy: []string{"localhost"}})
	b := NewBridge(store)

	if err := b.UpdateNoProxy([]string{"*.cn"}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("未激活时 UpdateNoProxy = %v, want ErrNotActive", err)
	}

	if err := b.Activate("socks5://127.0.0.1:7890", []string{"*.baidu.com"}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := b.UpdateNoProxy([]string{"*.baidu.com", "*.qq.com"}); err != nil {
		t.Fatalf("UpdateNoProxy: %v", err)
	}

	got := store.Get().NoProxy
	want := []string{"localhost", "*.baidu.com", "*.qq.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NoProxy = %v, want %v", got, want)
	}
}

func TestUpdateProxyURL(t *testing.T) {
	t.Parallel()

	store := NewHostProxyStore()
	b := NewBridge(store)

	if err := b.UpdateProxyURL("socks5://127.0.0.1:7891"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("未激活时 UpdateProxyURL = %v, want ErrNotActive", err)
	}

	if err := b.Activate("socks5://127.0.0.1:7890", []string{"*.cn"}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := b.UpdateProxyURL("socks5://127.0.0.1:7891"); err != nil {
		t.Fatalf("UpdateProxyURL: %v", err)
	}

	got := store.Get()
	if got.ProxyURL != "socks5://127.0.0.1:7891" {
		t.Fatalf("ProxyURL = %q", got.ProxyURL)
	}
	if len(got.NoProxy) != 1 || got.NoProxy[0] != "*.cn" {
		t.Fatalf("NoProxy 不应被改动: %v", got.NoProxy)
	}
}
