package lock

import (
	"sync/atomic"

	"github.com/kolkov/syncprim/internal/goid"
	"github.com/kolkov/syncprim/sema"
)

// IDMutex state word values. Any value >= 0 is the id that acquired the
// lock on the fast path.
const (
	unlockedID  int64 = -1
	contestedID int64 = -2
)

// IDMutex is an exclusive lock that records the identity of its holder.
// Lock called by the current owner with the same id is a no-op, which
// makes the lock idempotent (not counted-recursive) for one identity.
// Unlock verifies the caller's id and treats a mismatch as fatal.
//
// Identities are opaque non-negative integers supplied by the caller;
// SelfID provides a ready-made one. Blocking goes through an internal
// semaphore rather than the state word itself, because the word carries
// the owner id instead of a dedicated sleep value.
//
// An IDMutex must be created with NewID or NewIDMaxSpin and must not be
// copied after first use.
type IDMutex struct {
	state   int64 // unlockedID, contestedID, or the id holding the fast path
	owner   int64 // id of the current holder; unlockedID when free
	maxSpin int
	sem     *sema.Semaphore
}

// NewID returns an id-aware mutex with the default spin budget.
func NewID() *IDMutex {
	return NewIDMaxSpin(DefaultMaxSpin)
}

// NewIDMaxSpin returns an id-aware mutex with the given spin budget.
// At least one spin iteration is always performed: the first iteration is
// also where re-acquisition by the owner is detected.
func NewIDMaxSpin(maxSpin int) *IDMutex {
	if maxSpin < 1 {
		maxSpin = 1
	}
	return &IDMutex{
		state:   unlockedID,
		owner:   unlockedID,
		maxSpin: maxSpin,
		sem:     sema.New(0),
	}
}

// Lock acquires the mutex for id, parking the caller under contention.
// If the calling identity already holds the lock, Lock returns
// immediately without changing any state.
func (m *IDMutex) Lock(id int64) {
	if id < 0 {
		panic("syncprim: lock id must be non-negative")
	}

	for i := 0; i < m.maxSpin; i++ {
		if atomic.CompareAndSwapInt64(&m.state, unlockedID, id) {
			atomic.StoreInt64(&m.owner, id)
			return
		}
		st := atomic.LoadInt64(&m.state)
		if st == id && atomic.LoadInt64(&m.owner) == id {
			// Already ours via the fast path.
			return
		}
		if st == contestedID {
			if atomic.LoadInt64(&m.owner) == id {
				// Already ours, merely marked contested by other waiters.
				return
			}
			m.sem.Wait()
			break
		}
	}

	// Pessimistic slow path, same shape as Mutex: force the state to
	// contested and sleep while the previous value shows a holder.
	for atomic.SwapInt64(&m.state, contestedID) != unlockedID {
		m.sem.Wait()
	}
	atomic.StoreInt64(&m.owner, id)
}

// Unlock releases the mutex held by id. Unlocking with an id that is not
// the current owner is a contract violation and panics.
func (m *IDMutex) Unlock(id int64) {
	if id < 0 {
		panic("syncprim: lock id must be non-negative")
	}
	if atomic.LoadInt64(&m.owner) != id {
		panic("syncprim: unlock by an id that does not hold the lock")
	}
	// The owner must be cleared before the state flips to unlocked, or a
	// racing Lock could observe its own id against a stale owner.
	atomic.StoreInt64(&m.owner, unlockedID)
	if atomic.SwapInt64(&m.state, unlockedID) == contestedID {
		m.sem.Post(1)
	}
}

// CurrentOwner returns the id holding the lock, or -1 when it is free.
// The answer is a snapshot and can be stale by the time it is read.
func (m *IDMutex) CurrentOwner() int64 {
	return atomic.LoadInt64(&m.owner)
}

// SelfID returns the calling goroutine's id, suitable as an IDMutex
// identity token.
func SelfID() int64 {
	return goid.ID()
}
