package sharded

import "sync"

type setShard struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// ShardedSet is a concurrent set of strings.
type ShardedSet [numShards]*setShard

// NewShardedSet returns an empty set.
func NewShardedSet() *ShardedSet {
	var s ShardedSet
	for i := range s {
		s[i] = &setShard{items: make(map[string]struct{})}
	}
	return &s
}

func (s *ShardedSet) getShard(key string) *setShard {
	return s[getShardIndex(key)]
}

// Store adds key to the set.
func (s *ShardedSet) Store(key string) {
	shard := s.getShard(key)
	shard.mu.Lock()
	shard.items[key] = struct{}{}
	shard.mu.Unlock()
}

// Has checks only for the presence of a key.
func (s *ShardedSet) Has(key string) bool {
	shard := s.getShard(key)
	shard.mu.RLock()
	_, exists := shard.items[key]
	shard.mu.RUnlock()
	return exists
}

// LoadOrStore ensures a key is present in the set, returning true if it was already present.
// It returns false if the key was newly stored. This is an atomic operation.
func (s *ShardedSet) LoadOrStore(key string) (loaded bool) {
	shard := s.getShard(key)
	shard.mu.Lock()
	_, loaded = shard.items[key]
	if !loaded {
		shard.items[key] = struct{}{}
	}
	shard.mu.Unlock()
	return loaded
}

// Delete removes key from the set.
func (s *ShardedSet) Delete(key string) {
	shard := s.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Count returns the total number of elements in the set.
func (s *ShardedSet) Count() int {
	count := 0
	for _, shard := range s {
		shard.mu.RLock()
		count += len(shard.items)
		shard.mu.RUnlock()
	}
	return count
}
