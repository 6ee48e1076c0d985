// Package event implements an auto-reset event: a one-shot signal that
// releases exactly one waiter and resets itself in the same step.
//
// The whole state machine lives in one signed counter m, always <= 1:
//
//	m = 1   signaled, no one waiting
//	m = 0   quiet, no one waiting
//	m = -k  k waiters are (or are about to be) parked on the semaphore
//
// Signal saturates at 1, so redundant signals coalesce instead of
// accumulating credit the way a counting semaphore would; but a signal
// that observes a negative counter always posts the internal semaphore,
// so a pending waiter's wake is never dropped.
package event

import (
	"sync/atomic"

	"github.com/kolkov/syncprim/sema"
)

// AutoReset is the auto-reset event. It must be created with New and must
// not be copied after first use.
type AutoReset struct {
	count int64 // always <= 1; see the package comment for the encoding
	sem   *sema.Semaphore
}

// New returns an event. initial may be 0 (quiet) or 1 (pre-signaled);
// anything above 1 is clamped to 1, anything below 0 to 0.
func New(initial int) *AutoReset {
	if initial > 1 {
		initial = 1
	}
	if initial < 0 {
		initial = 0
	}
	return &AutoReset{count: int64(initial), sem: sema.New(0)}
}

// Signal makes the event signaled. If a waiter is pending, exactly one is
// released; otherwise a single pre-signal is retained and further Signal
// calls are no-ops until someone waits.
func (e *AutoReset) Signal() {
	c := atomic.LoadInt64(&e.count)
	for {
		next := c + 1
		if c >= 1 {
			// Saturate: the event ignores extra signals. The exchange is
			// still performed so the signaler's writes are published.
			next = 1
		}
		if atomic.CompareAndSwapInt64(&e.count, c, next) {
			break
		}
		c = atomic.LoadInt64(&e.count)
	}

	if c < 0 {
		// The pre-state says someone is (or will momentarily be) parked.
		e.sem.Post(1)
	}
}

// Wait consumes a signal, parking the caller until one arrives. A stored
// pre-signal satisfies Wait without touching the kernel.
func (e *AutoReset) Wait() {
	// Fetch-and-decrement; the previous value decides the path.
	if atomic.AddInt64(&e.count, -1)+1 < 1 {
		e.sem.Wait()
	}
}
