// Property-based tests for per-challenge mutual exclusion.
package lock

import (
	"sync"
	"testing"

	"pgregory.net/rapid"
)

// TestConcurrentSettlementSafetyProperty checks that for any set of
// concurrent settlement-style read-modify-write sequences on the same
// challenge, the final state matches sequential execution.
func TestConcurrentSettlementSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")
		challengeID := rapid.Int64Range(1, 1000000).Draw(t, "challengeID")

		amounts := make([]int64, numOps)
		var expected int64
		for i := range amounts {
			amounts[i] = rapid.Int64Range(1, 500).Draw(t, "amount")
			expected += amounts[i]
		}

		cl := NewChallengeLock()
		var credited int64

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				cl.Lock(challengeID)
				defer cl.Unlock(challengeID)
				credited += amount
			}(amount)
		}
		wg.Wait()

		if credited != expected {
			t.Fatalf("credited %d, expected %d (numOps=%d)", credited, expected, numOps)
		}
	})
}

// TestIndependentChallengesDoNotBlock checks that locks on different
// challenges are independent of each other.
func TestIndependentChallengesDoNotBlock(t *testing.T) {
	cl := NewChallengeLock()

	cl.Lock(1)
	defer cl.Unlock(1)

	if !cl.TryLock(2) {
		t.Fatal("lock on challenge 2 should be free while challenge 1 is held")
	}
	cl.Unlock(2)
}

func TestTryLockHeld(t *testing.T) {
	cl := NewChallengeLock()

	cl.Lock(7)
	if cl.TryLock(7) {
		t.Fatal("TryLock should fail while the challenge lock is held")
	}
	cl.Unlock(7)

	if !cl.TryLock(7) {
		t.Fatal("TryLock should succeed once the lock is released")
	}
	cl.Unlock(7)
}

func TestWithLockReleasesOnError(t *testing.T) {
	cl := NewChallengeLock()

	err := cl.WithLock(3, func() error {
		if cl.TryLock(3) {
			t.Fatal("lock must be held inside WithLock")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cl.TryLock(3) {
		t.Fatal("lock must be released after WithLock returns")
	}
	cl.Unlock(3)
}
