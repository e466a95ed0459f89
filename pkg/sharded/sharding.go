// Package sharded provides string-keyed concurrent collections split into
// independently locked shards, so that workers touching different paths do
// not contend on one mutex.
package sharded

import "hash/fnv"

// numShards must be a power of 2 for the bitwise AND optimization to work correctly.
const numShards = 64

// getShardIndex calculates the shard index for a given key.
// It uses the FNV-1a hash algorithm.
func getShardIndex(key string) int {
	h := fnv.New32a()
	// Write never returns an error for FNV-1a, so we ignore the return value.
	h.Write([]byte(key))
	return int(h.Sum32() & uint32(numShards-1))
}
