package syncutil

import (
	"context"
	"hash/fnv"
)

// KeyedMutex serializes work per entity ID (a payment, an auction) while
// letting waiters bail out on context cancellation. Locks are backed by a
// fixed pool of channel mutexes, so memory stays bounded no matter how many
// distinct IDs pass through; two IDs that hash to the same slot contend with
// each other, which is harmless for correctness.
type KeyedMutex struct {
	slots [keyedSlots]chan struct{}
}

const keyedSlots = 256

// NewKeyedMutex creates a keyed mutex with all slots unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.slots {
		m.slots[i] = make(chan struct{}, 1)
		m.slots[i] <- struct{}{}
	}
	return m
}

// Lock acquires the mutex for key, waiting until it is free or ctx is done.
// On success it returns the unlock function, which the caller must invoke
// exactly once. On cancellation it returns nil and the context error.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	slot := m.slots[slotIndex(key)]
	select {
	case <-slot:
		return func() { slot <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func slotIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % keyedSlots
}
