// Package sema implements a bounded counting semaphore on top of the
// futex parking primitive. It is the building block every higher layer of
// this module blocks through: the auto-reset event, the id-aware lock and
// the wait-set all funnel their sleeps into Semaphore.Wait.
//
// The fast paths are lock-free; only Wait can sleep in the kernel, and Post
// issues a wake syscall only when the waitCount probe says someone might
// be parked. The futex word is the count itself, so the kernel's own
// compare-and-sleep closes the race between a Post and a concurrent Wait
// deciding to park.
//
// Lost-wake argument, for any interleaving in which Post raises the count
// above zero: Post commits the increment first and probes waitCount
// afterwards; Wait raises waitCount first and only then parks with the
// kernel re-checking count == 0. Either the parker's kernel check sees the
// non-zero count and refuses to sleep (the increment is drained by
// TryWait), or the parker was registered in waitCount before Post's probe
// and receives the wake. One of the two always holds.
package sema

import (
	"math"
	"sync/atomic"

	"github.com/kolkov/syncprim/internal/futex"
)

// Semaphore is a bounded counting semaphore.
//
// Invariants:
//   - 0 <= count <= max at all times.
//   - waitCount is a conservative upper bound on parked waiters: it may
//     briefly exceed the true number but is never lower, so a Post can
//     only over-wake (harmless), never under-wake.
//
// A Semaphore must be created with New or NewBounded and must not be
// copied after first use. Dropping a semaphore while goroutines are parked
// on it is a contract violation.
type Semaphore struct {
	count     uint32 // the value; doubles as the futex word
	waitCount uint32 // goroutines in the blocking slow path
	max       uint32
}

// New returns a semaphore with the given initial count and the largest
// representable bound.
func New(initial uint32) *Semaphore {
	return NewBounded(initial, math.MaxUint32)
}

// NewBounded returns a semaphore bounded by max. Post saturates at max
// instead of wrapping. An initial count above max is clamped. A zero max
// would make the semaphore unusable and panics.
func NewBounded(initial, max uint32) *Semaphore {
	if max == 0 {
		panic("syncprim: semaphore bound must be positive")
	}
	if initial > max {
		initial = max
	}
	return &Semaphore{count: initial, max: max}
}

// TryWait decrements the count if it is positive and reports whether it
// did. It never blocks.
func (s *Semaphore) TryWait() bool {
	v := atomic.LoadUint32(&s.count)
	for {
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&s.count, v, v-1) {
			return true
		}
		v = atomic.LoadUint32(&s.count)
	}
}

// Wait decrements the count, parking the caller while it is zero.
func (s *Semaphore) Wait() {
	if s.TryWait() {
		return
	}

	atomic.AddUint32(&s.waitCount, 1)
	for {
		// The kernel re-checks count == 0 before sleeping; a Post that
		// slipped in since our TryWait makes this return immediately.
		futex.Wait(&s.count, 0)
		if s.TryWait() {
			break
		}
	}
	atomic.AddUint32(&s.waitCount, ^uint32(0))
}

// Post adds up to n to the count, saturating at the bound, and returns the
// amount actually added. A return lower than n signals saturation; callers
// that need strict accounting must check it. If anyone might be parked, a
// wake for up to the added amount of waiters is issued: concurrent Posts
// each wake what they themselves contributed.
func (s *Semaphore) Post(n uint32) uint32 {
	if n == 0 {
		return 0
	}

	var added uint32
	v := atomic.LoadUint32(&s.count)
	for {
		if v == s.max {
			return 0
		}
		if n > s.max-v {
			// Partial increment up to the bound.
			if atomic.CompareAndSwapUint32(&s.count, v, s.max) {
				added = s.max - v
				break
			}
		} else if atomic.CompareAndSwapUint32(&s.count, v, v+n) {
			added = n
			break
		}
		v = atomic.LoadUint32(&s.count)
	}

	// Probe before the syscall: on the uncontended path nobody is parked
	// and the wake is elided entirely.
	if atomic.LoadUint32(&s.waitCount) != 0 {
		futex.Wake(&s.count, added)
	}
	return added
}
