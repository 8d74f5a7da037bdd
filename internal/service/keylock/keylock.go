// Package keylock serializes work per subject. Consent writes, record
// writes, erasure, and the retention sweep all lock the subject id
// before touching that subject's state, so an erasure and a concurrent
// field write cannot interleave on the same subject while unrelated
// subjects proceed in parallel.
package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 64

// Striped is a fixed pool of mutexes indexed by key hash. Two keys may
// share a shard; that costs an occasional needless wait, never a missed
// exclusion.
type Striped struct {
	shards []sync.Mutex
	mask   uint32
}

// NewStriped creates a lock pool with at least n shards, rounded up to
// a power of two. n <= 0 selects the default.
func NewStriped(n int) *Striped {
	if n <= 0 {
		n = defaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &Striped{
		shards: make([]sync.Mutex, size),
		mask:   uint32(size - 1),
	}
}

// Lock takes the shard for key and returns the unlock. Callers defer
// the returned func; holding two keys at once risks deadlock and is the
// caller's problem to avoid.
func (s *Striped) Lock(key string) func() {
	shard := &s.shards[s.index(key)]
	shard.Lock()
	return shard.Unlock
}

func (s *Striped) index(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() & s.mask
}
