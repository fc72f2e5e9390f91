// Package sharded provides string-keyed synchronization primitives that
// distribute keys across a fixed number of shards to keep lock contention
// and memory overhead low.
package sharded

import "sync"

// lockShard guards a set of per-key mutexes within one shard.
type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a reference-counted mutex for a single key. The reference count
// lets the shard drop the entry once the last holder releases it, so the map
// does not grow with every key ever locked.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// LockSet serializes operations per string key while leaving operations on
// different keys fully concurrent.
type LockSet []*lockShard

// NewLockSet creates a LockSet with the given number of shards.
// numShards must be a power of 2.
func NewLockSet(numShards int) *LockSet {
	if !isPowerOfTwo(numShards) {
		panic("num shards must be a power of 2")
	}
	s := make(LockSet, numShards)
	for i := 0; i < numShards; i++ {
		s[i] = &lockShard{locks: make(map[string]*keyLock)}
	}
	return &s
}

func (s *LockSet) getShard(key string) *lockShard {
	shardIndex := getShardIndex(key, len(*s))
	return (*s)[shardIndex]
}

// Lock acquires the mutex for the given key, blocking until it is available.
// Every call must be paired with exactly one Unlock for the same key.
func (s *LockSet) Lock(key string) {
	shard := s.getShard(key)

	shard.mu.Lock()
	kl, ok := shard.locks[key]
	if !ok {
		kl = &keyLock{}
		shard.locks[key] = kl
	}
	kl.refs++
	shard.mu.Unlock()

	kl.mu.Lock()
}

// Unlock releases the mutex for the given key. Unlocking a key that was
// never locked is a programming error and panics, matching sync.Mutex.
func (s *LockSet) Unlock(key string) {
	shard := s.getShard(key)

	shard.mu.Lock()
	kl, ok := shard.locks[key]
	if !ok {
		shard.mu.Unlock()
		panic("sharded: unlock of unlocked key " + key)
	}
	kl.refs--
	if kl.refs == 0 {
		delete(shard.locks, key)
	}
	shard.mu.Unlock()

	kl.mu.Unlock()
}

// Count returns the number of keys currently held or waited on.
func (s *LockSet) Count() int {
	count := 0
	for i := 0; i < len(*s); i++ {
		shard := (*s)[i]
		shard.mu.Lock()
		count += len(shard.locks)
		shard.mu.Unlock()
	}
	return count
}
