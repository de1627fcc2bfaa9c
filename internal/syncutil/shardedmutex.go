// Package syncutil provides per-key locking primitives used to serialize
// bid placement and payment mutations without a lock per entity.
package syncutil

import (
	"sync"
)

// ShardedMutex is the non-cancellable counterpart of KeyedMutex: a fixed
// pool of mutexes keyed by string, suitable for short critical sections
// such as the bid compare-and-append path. Keys that hash to the same
// shard serialize against each other.
type ShardedMutex struct {
	shards [keyedSlots]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[slotIndex(key)]
	mu.Lock()
	return mu.Unlock
}
