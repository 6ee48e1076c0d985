// Package waitset implements a fan-in multiplexer: one consumer blocks on
// a single auto-reset event while any number of producers report triggers
// into it.
//
// A trigger is a (condition, optional callback) pair registered with Add.
// It lives in a fixed-capacity slot table and is addressed by its stable
// slot index; a monotonically increasing 64-bit id stamped at Add time
// disambiguates reuse of the same slot (the ABA guard). Tokens are
// reference-counted handles onto slots; a slot is recycled only once it
// has been detached from the set and its last token is gone.
//
// Locking discipline: the container mutex guards the slot table, the
// free-index stack and the iteration list. It is never held across the
// blocking wait, never across user callbacks or filters, and the notify
// path does not take it at all: notifiers touch one atomic counter and
// the event, so reporting a trigger never contends with Add or Remove.
//
// Threading model: single consumer, many producers. The latch-and-drain
// protocol resets per-slot state during the drain, which requires the
// drain to be exclusive; concurrent Wait calls are not supported.
package waitset

import (
	"sync/atomic"

	"github.com/kolkov/syncprim/event"
	"github.com/kolkov/syncprim/lock"
)

// Condition is a trigger predicate. It is evaluated on the notifying
// thread, outside the container mutex, and must be safe to call from any
// goroutine.
type Condition func() bool

// Callback is an optional side effect run by the draining waiter, after
// the scan and outside the container mutex.
type Callback func()

// WakeUpSet is the batch a Wait returns: the slot indices of the triggers
// that fired since the previous drain, each at most once.
type WakeUpSet []uint32

// Contains reports whether the batch holds index.
func (s WakeUpSet) Contains(index uint32) bool {
	for _, idx := range s {
		if idx == index {
			return true
		}
	}
	return false
}

// Filter narrows a collected batch before callbacks run and before Wait
// returns it. Returning an empty set sends the waiter back to sleep.
type Filter func(WakeUpSet) WakeUpSet

// slot is one table entry. pending, refs, detached and id are atomics so
// the notify path and lingering tokens can inspect them without the
// container mutex; cond and cb are written only while the slot is bound
// (under the mutex at Add/SetCallback time) and read by notifiers that
// hold a live reference.
type slot struct {
	id       uint64 // generation stamp for the ABA guard; 0 = never used
	pending  uint32 // times the trigger fired since the last drain
	refs     int32  // live tokens, plus one while the set holds the slot
	detached uint32 // 1 once removed from the set
	cond     Condition
	cb       Callback
}

// WaitSet is the multiplexer. It must be created with New, must not be
// copied, and must outlive every token handed out by Add.
type WaitSet struct {
	mu     *lock.Mutex
	ev     *event.AutoReset // the single wake-up channel
	slots  []slot
	free   []uint32 // free-index stack; pop yields the next slot
	active []uint32 // iteration list of bound indices, in Add order
	nextID uint64   // atomic; source of the per-slot generation stamps
}

// New returns a wait-set with room for capacity triggers.
func New(capacity uint32) *WaitSet {
	if capacity == 0 {
		panic("syncprim: waitset capacity must be positive")
	}
	w := &WaitSet{
		mu:     lock.New(),
		ev:     event.New(0),
		slots:  make([]slot, capacity),
		free:   make([]uint32, 0, capacity),
		active: make([]uint32, 0, capacity),
	}
	// Stack the indices so that pops hand them out in ascending order.
	for i := capacity; i > 0; i-- {
		w.free = append(w.free, i-1)
	}
	return w
}

// Capacity returns the fixed number of slots.
func (w *WaitSet) Capacity() uint32 {
	return uint32(len(w.slots))
}

// Add registers a trigger with no callback. It returns the trigger's
// token and true, or nil and false when the table is full.
func (w *WaitSet) Add(cond Condition) (*Token, bool) {
	return w.AddFunc(cond, nil)
}

// AddFunc registers a trigger with a callback to run on wakeup.
func (w *WaitSet) AddFunc(cond Condition, cb Callback) (*Token, bool) {
	if cond == nil {
		panic("syncprim: waitset condition must not be nil")
	}

	w.mu.Lock()
	if len(w.free) == 0 {
		w.mu.Unlock()
		return nil, false
	}
	index := w.free[len(w.free)-1]
	w.free = w.free[:len(w.free)-1]

	s := &w.slots[index]
	id := atomic.AddUint64(&w.nextID, 1)
	atomic.StoreUint64(&s.id, id)
	atomic.StoreUint32(&s.pending, 0)
	atomic.StoreUint32(&s.detached, 0)
	// One reference for the returned token, one for the set itself.
	atomic.StoreInt32(&s.refs, 2)
	s.cond = cond
	s.cb = cb
	w.active = append(w.active, index)
	w.mu.Unlock()

	return &Token{set: w, index: index, id: id}, true
}

// Remove detaches the trigger the token refers to. It returns false when
// the token no longer matches a bound slot (already removed, or the slot
// was since reused). The slot itself is recycled lazily, once the last
// token referring to it is invalidated.
func (w *WaitSet) Remove(t *Token) bool {
	if t == nil || t.set != w {
		return false
	}
	w.mu.Lock()
	s := &w.slots[t.index]
	if atomic.LoadUint64(&s.id) != t.id || atomic.LoadUint32(&s.detached) != 0 {
		w.mu.Unlock()
		return false
	}
	w.detachLocked(t.index, s)
	w.mu.Unlock()
	return true
}

// RemoveIndex detaches the trigger bound to the given slot index.
func (w *WaitSet) RemoveIndex(index uint32) bool {
	if index >= uint32(len(w.slots)) {
		return false
	}
	w.mu.Lock()
	s := &w.slots[index]
	if atomic.LoadUint32(&s.detached) != 0 || atomic.LoadInt32(&s.refs) == 0 {
		w.mu.Unlock()
		return false
	}
	w.detachLocked(index, s)
	w.mu.Unlock()
	return true
}

// detachLocked drops the set's binding of the slot: marks it detached,
// removes it from the iteration list and gives up the set's reference.
// Caller holds w.mu.
func (w *WaitSet) detachLocked(index uint32, s *slot) {
	atomic.StoreUint32(&s.detached, 1)
	for i, idx := range w.active {
		if idx == index {
			w.active = append(w.active[:i], w.active[i+1:]...)
			break
		}
	}
	if atomic.AddInt32(&s.refs, -1) == 0 {
		w.recycleLocked(index, s)
	}
}

// recycleLocked returns a fully released slot to the free stack. Caller
// holds w.mu; refs is zero and the slot is detached, so no token can
// resurrect it.
func (w *WaitSet) recycleLocked(index uint32, s *slot) {
	s.cond = nil
	s.cb = nil
	atomic.StoreUint32(&s.pending, 0)
	w.free = append(w.free, index)
}

// Notify signals the set-wide wake-up channel without reporting any
// particular trigger. The waiter wakes, finds whatever is pending, and
// goes back to sleep if nothing is.
func (w *WaitSet) Notify() {
	w.ev.Signal()
}

// Wait blocks until at least one trigger has fired, then returns the
// batch of fired slot indices. Each trigger appears at most once per
// batch no matter how many times it was reported since the last drain;
// its pending count is reset to zero by the drain. Callbacks of the
// returned triggers run before Wait returns, outside the container mutex.
func (w *WaitSet) Wait() WakeUpSet {
	return w.wait(nil)
}

// WaitFiltered is Wait with a user filter applied to the collected batch
// before callbacks fire and before the batch is returned. An empty
// filtered batch puts the waiter back to sleep.
func (w *WaitSet) WaitFiltered(f Filter) WakeUpSet {
	return w.wait(f)
}

func (w *WaitSet) wait(f Filter) WakeUpSet {
	var wakeUp WakeUpSet
	var cbs []indexedCallback

	for {
		w.ev.Wait()

		wakeUp = wakeUp[:0]
		cbs = cbs[:0]
		w.mu.Lock()
		for _, index := range w.active {
			s := &w.slots[index]
			if atomic.LoadUint32(&s.pending) == 0 {
				continue
			}
			// Drain the latch. A notifier may be firing this trigger
			// again right now; its increment either lands before this
			// reset and is represented by this batch entry, or after it
			// and carries its own event signal for the next round.
			atomic.StoreUint32(&s.pending, 0)
			wakeUp = append(wakeUp, index)
			if s.cb != nil {
				cbs = append(cbs, indexedCallback{index: index, cb: s.cb})
			}
		}
		w.mu.Unlock()

		if f != nil {
			wakeUp = f(wakeUp)
		}
		for _, ic := range cbs {
			if f == nil || wakeUp.Contains(ic.index) {
				ic.cb()
			}
		}

		if len(wakeUp) > 0 {
			return wakeUp
		}
		// Nothing pending (a bare Notify, a filtered-out batch, or a
		// trigger removed between its report and this drain): sleep again.
	}
}

// indexedCallback pairs a drained slot with the callback snapshot taken
// under the container mutex, so the callback can run after filtering and
// outside the mutex.
type indexedCallback struct {
	index uint32
	cb    Callback
}
