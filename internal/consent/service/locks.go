package service

import (
	"sync"

	"openconsent/pkg/domain"
)

// Usage recording is a read-modify-append sequence whose cap check must be
// serialized per aggregate. Instead of one global lock, aggregates hash onto
// sharded mutexes to keep contention bounded under concurrent load.
const numShards = 128

type aggregateLocks struct {
	shards [numShards]sync.Mutex
}

func (l *aggregateLocks) lock(id domain.ConsentID) func() {
	shard := &l.shards[hashID(id)%numShards]
	shard.Lock()
	return shard.Unlock
}

// hashID is FNV-1a over the ID string for even shard distribution.
func hashID(id domain.ConsentID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	s := id.String()
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
