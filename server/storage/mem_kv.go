// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package storage

import (
	"context"
	"sync"

	"github.com/google/btree"
)

const memKVDegree = 16

type memItem struct {
	key, value string
}

func lessMemItem(a, b memItem) bool {
	return a.key < b.key
}

// memKV keeps the keys ordered in a btree so Scan walks them in key order like etcd does.
type memKV struct {
	lock sync.RWMutex
	tree *btree.BTreeG[memItem]
}

// NewMemKV returns a KV living in process memory. Its content is lost on restart.
func NewMemKV() KV {
	return &memKV{tree: btree.NewG[memItem](memKVDegree, lessMemItem)}
}

func (kv *memKV) Get(_ context.Context, key string) (string, error) {
	kv.lock.RLock()
	defer kv.lock.RUnlock()

	item, ok := kv.tree.Get(memItem{key: key})
	if !ok {
		return "", nil
	}
	return item.value, nil
}

func (kv *memKV) Scan(_ context.Context, key, endKey string, limit int) ([]string, []string, error) {
	if limit <= 0 {
		return nil, nil, nil
	}

	kv.lock.RLock()
	defer kv.lock.RUnlock()

	keys := make([]string, 0, limit)
	values := make([]string, 0, limit)
	kv.tree.AscendRange(memItem{key: key}, memItem{key: endKey}, func(item memItem) bool {
		keys = append(keys, item.key)
		values = append(values, item.value)
		return len(keys) < limit
	})
	return keys, values, nil
}

func (kv *memKV) Put(_ context.Context, key, value string) error {
	kv.lock.Lock()
	defer kv.lock.Unlock()

	kv.tree.ReplaceOrInsert(memItem{key: key, value: value})
	return nil
}

func (kv *memKV) Delete(_ context.Context, key string) error {
	kv.lock.Lock()
	defer kv.lock.Unlock()

	kv.tree.Delete(memItem{key: key})
	return nil
}
