// Package persist 节点缓存落盘。
// 缓存只是参考数据：读失败降级为空缓存，写失败记日志不阻断主流程。
package persist

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"

	"outway/backend/domain"
)

const nodeCacheFile = "nodes.json"

// NodeCacheStore 管理 <stateRoot>/nodes.json。
type NodeCacheStore struct {
	path string
}

func NewNodeCacheStore(stateRoot string) *NodeCacheStore {
	return &NodeCacheStore{path: filepath.Join(stateRoot, nodeCacheFile)}
}

// Save 原子写入：先写 .tmp 再 rename，崩溃也不会留下半个文件。
func (s *NodeCacheStore) Save(cache domain.NodeCache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load 读取缓存。文件缺失、为空或损坏都降级为零值缓存。
func (s *NodeCacheStore) Load() domain.NodeCache {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[Persist] 读取节点缓存失败: %v", err)
		}
		return domain.NodeCache{}
	}
	if len(data) == 0 {
		return domain.NodeCache{}
	}

	var cache domain.NodeCache
	if err := json.Unmarshal(data, &cache); err != nil {
		log.Printf("[Persist] 节点缓存已损坏，忽略: %v", err)
		return domain.NodeCache{}
	}
	return cache
}
