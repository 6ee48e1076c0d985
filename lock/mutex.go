// Package lock implements blocking exclusive locks: a tri-state futex
// mutex with a bounded spin prelude, and an id-aware variant that records
// its owner and tolerates re-acquisition by the same identity.
//
// The futex Mutex parks directly on its own state word, so the uncontended
// lock and unlock are a single atomic operation each (a compare-and-swap
// and an exchange) with no syscall. The
// id-aware IDMutex blocks through a sema.Semaphore instead, which keeps
// the state word free to carry the owner id.
package lock

import (
	"sync/atomic"

	"github.com/kolkov/syncprim/internal/futex"
)

// Mutex states. The transitions are:
//
//	unlocked --lock(fast)--> locked
//	locked   --unlock------> unlocked
//	locked   --another lock> contested
//	contested --unlock-----> unlocked (+ wake one)
//	contested --lock wins--> contested (pessimistic: stays contested)
const (
	unlocked  = 0
	locked    = 1
	contested = 2
)

// DefaultMaxSpin is the spin budget used by New. Spinning this long before
// parking wins when critical sections are short; the budget is bounded so
// a held lock always degrades to a sleep, never a busy loop.
const DefaultMaxSpin = 100

// Mutex is a futex-backed exclusive lock. It implements sync.Locker.
//
// A Mutex must be created with New or NewMaxSpin and must not be copied
// after first use. The zero value is NOT a ready-to-use mutex.
type Mutex struct {
	state   uint32 // the futex word
	maxSpin int
}

// New returns a mutex with the default spin budget.
func New() *Mutex {
	return NewMaxSpin(DefaultMaxSpin)
}

// NewMaxSpin returns a mutex that attempts up to maxSpin lock-free
// acquisitions before parking. A budget of 0 is valid and means the caller
// parks immediately under contention; the spin prelude is purely an
// optimization, never a correctness requirement.
func NewMaxSpin(maxSpin int) *Mutex {
	if maxSpin < 0 {
		maxSpin = 0
	}
	return &Mutex{maxSpin: maxSpin}
}

// Lock acquires the mutex, parking the caller if the spin budget runs out
// or the lock is already contested.
func (m *Mutex) Lock() {
	for i := 0; i < m.maxSpin; i++ {
		if atomic.CompareAndSwapUint32(&m.state, unlocked, locked) {
			return
		}
		if atomic.LoadUint32(&m.state) == contested {
			// Someone is already sleeping; joining the spin would let us
			// barge ahead of them. Park right away.
			futex.Wait(&m.state, contested)
			break
		}
	}

	// Slow path: pessimistically mark the lock contested and sleep while
	// the previous holder had it. Acquiring via this exchange leaves the
	// state contested even when no one else waits; the next unlock then
	// pays one redundant wake, which is cheaper than a missed one.
	for atomic.SwapUint32(&m.state, contested) != unlocked {
		futex.Wait(&m.state, contested)
	}
}

// Unlock releases the mutex and wakes one parked waiter if the lock was
// contested. Unlocking an unheld mutex is a contract violation; the state
// machine does not detect it.
func (m *Mutex) Unlock() {
	if atomic.SwapUint32(&m.state, unlocked) == contested {
		futex.Wake(&m.state, 1)
	}
}
