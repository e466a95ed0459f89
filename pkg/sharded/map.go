package sharded

import (
	"sort"
	"sync"
)

type mapShard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// ShardedMap is a concurrent string-keyed map.
type ShardedMap[V any] [numShards]*mapShard[V]

// NewShardedMap returns an empty map.
func NewShardedMap[V any]() *ShardedMap[V] {
	var m ShardedMap[V]
	for i := range m {
		m[i] = &mapShard[V]{items: make(map[string]V)}
	}
	return &m
}

func (m *ShardedMap[V]) getShard(key string) *mapShard[V] {
	return m[getShardIndex(key)]
}

// Store sets the value for key.
func (m *ShardedMap[V]) Store(key string, value V) {
	shard := m.getShard(key)
	shard.mu.Lock()
	shard.items[key] = value
	shard.mu.Unlock()
}

// Load retrieves the value associated with a key.
func (m *ShardedMap[V]) Load(key string) (value V, ok bool) {
	shard := m.getShard(key)
	shard.mu.RLock()
	value, ok = shard.items[key]
	shard.mu.RUnlock()
	return value, ok
}

// Count returns the total number of elements in the map.
func (m *ShardedMap[V]) Count() int {
	count := 0
	for _, shard := range m {
		shard.mu.RLock()
		count += len(shard.items)
		shard.mu.RUnlock()
	}
	return count
}

// SortedKeys returns all keys in lexical order.
func (m *ShardedMap[V]) SortedKeys() []string {
	keys := make([]string, 0, m.Count())
	for _, shard := range m {
		shard.mu.RLock()
		for k := range shard.items {
			keys = append(keys, k)
		}
		shard.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys
}

// Items returns a snapshot of all key-value pairs.
func (m *ShardedMap[V]) Items() map[string]V {
	items := make(map[string]V, m.Count())
	for _, shard := range m {
		shard.mu.RLock()
		for k, v := range shard.items {
			items[k] = v
		}
		shard.mu.RUnlock()
	}
	return items
}
