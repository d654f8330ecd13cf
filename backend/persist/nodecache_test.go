package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"outway/backend/domain"
)

func TestNodeCacheRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewNodeCacheStore(dir)

	cache := domain.NodeCache{
		FetchedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Nodes: []domain.ProxyNode{
			{
				Name:   "HK-01",
				Type:   domain.NodeVMess,
				Server: "hk.example.com",
				Port:   443,
				Raw:    domain.RawConfig{{Key: "uuid", Value: "abc"}},
			},
		},
	}
	if err := store.Save(cache); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// 临时文件不应残留
	if _, err := os.Stat(filepath.Join(dir, "nodes.json.tmp")); !os.IsNotExist(err) {
		t.Fatal("保存后不应残留 .tmp 文件")
	}

	got := store.Load()
	if !got.FetchedAt.Equal(cache.FetchedAt) {
		t.Fatalf("FetchedAt = %v, want %v", got.FetchedAt, cache.FetchedAt)
	}
	if len(got.Nodes) != 1 || got.Nodes[0].Name != "HK-01" {
		t.Fatalf("Nodes = %+v", got.Nodes)
	}
	if v, ok := got.Nodes[0].Raw.Get("uuid"); !ok || v != "abc" {
		t.Fatalf("Raw 字段丢失: %+v", got.Nodes[0].Raw)
	}
}

func TestNodeCacheLoadMissing(t *testing.T) {
	t.Parallel()

	store := NewNodeCacheStore(t.TempDir())
	got := store.Load()
	if len(got.Nodes) != 0 || !got.FetchedAt.IsZero() {
		t.Fatalf("缺失文件应降级为零值: %+v", got)
	}
}

func TestNodeCacheLoadCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "nodes.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	store := NewNodeCacheStore(dir)
	got := store.Load()
	if len(got.Nodes) != 0 {
		t.Fatalf("损坏文件应降级为零值: %+v", got)
	}
}
