package subscription

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

// lockShards is a power of two so the shard index reduces to a mask.
const lockShards = 256

// Locker serializes mutations of a user's subscription state. Both writers
// of that state (the plan-change service and the event reconciler) must
// acquire the same Locker instance for a user before touching the row or its
// pending change, which is what makes the single-writer-at-a-time policy
// hold across components.
//
// Locks are striped over a fixed set of mutexes keyed by a hash of the user
// ID: no per-user allocation, no cleanup, and unrelated users contend only
// on hash collisions.
type Locker struct {
	shards [lockShards]sync.Mutex
}

// NewLocker returns a Locker. One instance must be shared by all components
// mutating subscription state.
func NewLocker() *Locker {
	return &Locker{}
}

// Lock acquires the user's mutation lock and returns the unlock function.
//
//	unlock := locker.Lock(userID)
//	defer unlock()
func (l *Locker) Lock(userID uuid.UUID) func() {
	shard := &l.shards[shardIndex(userID)]
	shard.Lock()
	return shard.Unlock
}

func shardIndex(userID uuid.UUID) uint32 {
	h := fnv.New32a()
	h.Write(userID[:])
	return h.Sum32() % lockShards
}
