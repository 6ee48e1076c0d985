package waitset

import "sync/atomic"

// Token is a reference handle onto a wait-set trigger. Every live token
// contributes one reference to its slot; Clone shares the trigger,
// Invalidate gives the reference back. Once the trigger has been removed
// from the set and the last reference is gone, the slot is recycled and
// any token still pointing at it degrades to a no-op: the (index, id)
// pair no longer matches the slot, so stale handles can never touch a
// reused slot.
//
// A token must not outlive its wait-set.
type Token struct {
	set         *WaitSet
	index       uint32
	id          uint64
	invalidated uint32 // atomic; 1 once this handle gave up its reference
}

// Index returns the trigger's stable slot index within its wait-set.
func (t *Token) Index() uint32 {
	return t.index
}

// ID returns the trigger's generation id, unique across the lifetime of
// the wait-set. Together with Index it forms the ABA-safe address of the
// trigger: anyone handing an index across threads must hand the id along
// and recheck it before acting.
func (t *Token) ID() uint64 {
	return t.id
}

// Valid reports whether the handle still refers to a bound trigger.
func (t *Token) Valid() bool {
	if t == nil || atomic.LoadUint32(&t.invalidated) != 0 {
		return false
	}
	s := &t.set.slots[t.index]
	return atomic.LoadUint64(&s.id) == t.id && atomic.LoadUint32(&s.detached) == 0
}

// Evaluate runs the trigger's condition and returns its result. A stale
// or invalidated handle returns false.
func (t *Token) Evaluate() bool {
	s, ok := t.slot()
	if !ok {
		return false
	}
	return s.cond()
}

// Notify reports the trigger: the condition is re-evaluated on the
// calling thread and, only if it holds, the slot's pending count is
// raised and the set-wide event is signaled. A notify whose condition
// comes back false is dropped. Notify never takes the container mutex.
func (t *Token) Notify() {
	s, ok := t.slot()
	if !ok {
		return
	}
	if !s.cond() {
		return
	}
	atomic.AddUint32(&s.pending, 1)
	t.set.ev.Signal()
}

// SetCallback replaces the trigger's callback. It returns false on a
// stale or invalidated handle.
func (t *Token) SetCallback(cb Callback) bool {
	if t == nil || atomic.LoadUint32(&t.invalidated) != 0 {
		return false
	}
	w := t.set
	w.mu.Lock()
	s := &w.slots[t.index]
	if atomic.LoadUint64(&s.id) != t.id || atomic.LoadUint32(&s.detached) != 0 {
		w.mu.Unlock()
		return false
	}
	s.cb = cb
	w.mu.Unlock()
	return true
}

// Clone returns a new handle onto the same trigger, adding a reference to
// the slot. Cloning an invalidated handle returns nil.
func (t *Token) Clone() *Token {
	if t == nil || atomic.LoadUint32(&t.invalidated) != 0 {
		return nil
	}
	s := &t.set.slots[t.index]
	// The reference held by this handle keeps the slot from being
	// recycled underneath the increment.
	atomic.AddInt32(&s.refs, 1)
	return &Token{set: t.set, index: t.index, id: t.id}
}

// Invalidate releases this handle's reference. The call is idempotent
// per handle. When the trigger has been detached and this was the last
// reference, the slot is recycled for reuse by a future Add.
func (t *Token) Invalidate() {
	if t == nil || !atomic.CompareAndSwapUint32(&t.invalidated, 0, 1) {
		return
	}
	s := &t.set.slots[t.index]
	if atomic.AddInt32(&s.refs, -1) == 0 {
		// refs can only hit zero after the set dropped its own reference
		// in a detach, so the slot is free to recycle.
		w := t.set
		w.mu.Lock()
		w.recycleLocked(t.index, s)
		w.mu.Unlock()
	}
}

// slot resolves the handle to its slot if the handle is live and the slot
// still carries the matching generation and is bound to the set.
func (t *Token) slot() (*slot, bool) {
	if t == nil || atomic.LoadUint32(&t.invalidated) != 0 {
		return nil, false
	}
	s := &t.set.slots[t.index]
	if atomic.LoadUint64(&s.id) != t.id || atomic.LoadUint32(&s.detached) != 0 {
		return nil, false
	}
	return s, true
}
