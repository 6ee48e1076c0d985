// Package cond implements a condition variable over an external lock,
// with plain, predicate and timed-predicate waits.
//
// Waiters are parked one-per-node on their own semaphore; the nodes form
// an intrusive doubly-linked list guarded by an internal lock.Mutex held
// across pointer edits and, in the predicate waits, across the predicate
// re-check that precedes a re-insert. The external caller lock is released before
// the park and reacquired after the wake, so the usual contract applies:
// a predicate that can only change while the caller lock is held is
// guaranteed to hold on return.
//
// The timed wait arms a one-shot timer per node. Notify and expiry both
// funnel through the list lock and race for the node there: whichever
// side finds the node still enqueued removes it and posts its semaphore;
// the loser finds the node gone and posts nothing. The expiry always
// records that the deadline passed, so a waiter whose notify and timeout
// land together still terminates instead of re-queueing for a wait that
// can no longer end. A per-node generation counter makes a timer callback
// that outlives its wait session a no-op even after the node has been
// recycled through the pool.
package cond

import (
	"sync"
	"time"

	"github.com/kolkov/syncprim/lock"
	"github.com/kolkov/syncprim/sema"
)

// waitNode is one parked waiter. Nodes are pooled; gen identifies the
// wait session a timer was armed for and invalidates callbacks from any
// earlier reuse of the node. gen, inList and timedOut are only touched
// under the list lock.
type waitNode struct {
	prev, next *waitNode
	sem        *sema.Semaphore
	gen        uint64
	timer      *time.Timer
	inList     bool
	timedOut   bool
}

// Cond is the condition variable. It must be created with New and must
// not be copied after first use.
type Cond struct {
	mu   *lock.Mutex // the wait-list lock, never held across a park
	head *waitNode
	pool sync.Pool
}

// New returns an empty condition variable.
func New() *Cond {
	c := &Cond{mu: lock.New()}
	c.pool.New = func() any {
		return &waitNode{sem: sema.New(0)}
	}
	return c
}

// begin takes a node from the pool and enqueues it for a fresh wait
// session: bump the generation, clear the session state, push.
func (c *Cond) begin() *waitNode {
	n := c.pool.Get().(*waitNode)
	c.mu.Lock()
	n.gen++
	n.timedOut = false
	c.push(n)
	c.mu.Unlock()
	return n
}

// end retires a node after its wait session. The generation bump in the
// next session is what invalidates any timer callback still in flight.
func (c *Cond) end(n *waitNode) {
	n.timer = nil
	n.prev = nil
	n.next = nil
	c.pool.Put(n)
}

// push prepends n. Caller holds c.mu.
func (c *Cond) push(n *waitNode) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	n.inList = true
}

// remove unlinks n. Caller holds c.mu; n must be enqueued.
func (c *Cond) remove(n *waitNode) {
	if n.prev == nil {
		c.head = n.next
	} else {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.inList = false
}

// Wait releases l, parks until a notify, and reacquires l before
// returning. With no predicate there is nothing to re-check, so a single
// notify always completes the wait.
func (c *Cond) Wait(l sync.Locker) {
	n := c.begin()
	l.Unlock()
	n.sem.Wait()
	c.end(n)
	l.Lock()
}

// WaitCond waits until pred returns true. l must be held on entry and is
// held again whenever pred is evaluated and on return. pred must be
// monotonic under l: once it turns true inside a critical section it must
// stay true for the remainder of that section.
func (c *Cond) WaitCond(l sync.Locker, pred func() bool) {
	if pred() {
		return
	}

	n := c.begin()
	for {
		l.Unlock()
		n.sem.Wait()
		l.Lock()

		// The node is out of the list now (the notifier removed it). The
		// list lock is taken before the predicate check so that a false
		// result and the re-insert are one atomic step with respect to
		// notifiers; no notification can slip between them.
		c.mu.Lock()
		if pred() {
			c.mu.Unlock()
			break
		}
		c.push(n)
		c.mu.Unlock()
	}
	c.end(n)
}

// WaitTimeout is WaitCond with a deadline. It returns the final predicate
// result: false means the deadline passed with the predicate still false.
// l is held on return in every case.
func (c *Cond) WaitTimeout(l sync.Locker, pred func() bool, d time.Duration) bool {
	if pred() {
		return true
	}

	n := c.pool.Get().(*waitNode)
	c.mu.Lock()
	n.gen++
	n.timedOut = false
	gen := n.gen
	// One timer covers the whole wait, across any number of intermediate
	// wakes and re-queues. Notify paths leave it armed: a wait that is
	// woken with a still-false predicate goes back on the list with its
	// deadline intact. Only the waiter itself stops the timer, on exit;
	// a fire after that is defused by the generation guard.
	n.timer = time.AfterFunc(d, func() { c.expire(n, gen) })
	c.push(n)
	c.mu.Unlock()

	var ok bool
	for {
		l.Unlock()
		n.sem.Wait()
		l.Lock()

		c.mu.Lock()
		ok = pred()
		if ok || n.timedOut {
			c.mu.Unlock()
			break
		}
		// Notified, predicate still false, deadline not hit: go around.
		c.push(n)
		c.mu.Unlock()
	}

	n.timer.Stop()
	c.end(n)
	return ok
}

// expire is the timer callback for the wait session identified by gen.
func (c *Cond) expire(n *waitNode, gen uint64) {
	c.mu.Lock()
	if n.gen != gen {
		// The node has been recycled into a later wait; this timer's
		// session is long gone.
		c.mu.Unlock()
		return
	}
	n.timedOut = true
	if !n.inList {
		// A notifier removed the node a moment ago and its wake is in
		// flight; the flag alone stops the waiter from re-queueing.
		c.mu.Unlock()
		return
	}
	c.remove(n)
	c.mu.Unlock()
	n.sem.Post(1)
}

// NotifyOne wakes the most recent waiter, if any.
func (c *Cond) NotifyOne() {
	c.mu.Lock()
	n := c.head
	if n == nil {
		c.mu.Unlock()
		return
	}
	c.remove(n)
	c.mu.Unlock()
	n.sem.Post(1)
}

// NotifyAll wakes every current waiter.
func (c *Cond) NotifyAll() {
	c.mu.Lock()
	n := c.head
	c.head = nil
	for p := n; p != nil; p = p.next {
		p.inList = false
	}
	c.mu.Unlock()

	// Post outside the list lock. A woken waiter may recycle its node
	// immediately, so the next pointer must be read before the post.
	for p := n; p != nil; {
		next := p.next
		p.sem.Post(1)
		p = next
	}
}
