// Package lock provides per-challenge locking so that settlement for a
// given challenge never runs concurrently within this process.
package lock

import "sync"

// challengeMutex wraps a mutex with reference counting for reuse.
type challengeMutex struct {
	mu       sync.Mutex
	refCount int
}

// ChallengeLock provides per-challenge mutual exclusion. Settlement
// acquires the challenge's lock around its check-then-insert sequence.
type ChallengeLock struct {
	locks sync.Map // map[int64]*challengeMutex
	pool  sync.Pool
}

// NewChallengeLock creates a new ChallengeLock instance.
func NewChallengeLock() *ChallengeLock {
	return &ChallengeLock{
		pool: sync.Pool{
			New: func() any {
				return &challengeMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given challenge ID.
func (cl *ChallengeLock) getLock(challengeID int64) *challengeMutex {
	if v, ok := cl.locks.Load(challengeID); ok {
		return v.(*challengeMutex)
	}

	newLock := cl.pool.Get().(*challengeMutex)
	newLock.refCount = 0

	actual, loaded := cl.locks.LoadOrStore(challengeID, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool.
		cl.pool.Put(newLock)
	}
	return actual.(*challengeMutex)
}

// Lock acquires the lock for a challenge.
func (cl *ChallengeLock) Lock(challengeID int64) {
	lock := cl.getLock(challengeID)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a challenge.
func (cl *ChallengeLock) Unlock(challengeID int64) {
	if v, ok := cl.locks.Load(challengeID); ok {
		lock := v.(*challengeMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (cl *ChallengeLock) TryLock(challengeID int64) bool {
	lock := cl.getLock(challengeID)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// WithLock executes a function while holding the challenge's lock.
func (cl *ChallengeLock) WithLock(challengeID int64, fn func() error) error {
	cl.Lock(challengeID)
	defer cl.Unlock(challengeID)
	return fn()
}
