//go:build !linux

package futex

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Emulated futex for platforms without the syscall. Waiters hang off a
// fixed set of buckets hashed by word address; each bucket holds an
// intrusive doubly-linked list of wait nodes guarded by the bucket mutex.
// The bucket mutex is what closes the compare-and-park window: the word is
// re-read under it, so a wake between the caller's own check and the park
// cannot be missed.

const numBuckets = 512

type waitNode struct {
	prev, next *waitNode
	addr       uintptr
	signaled   bool
	wake       sync.Cond
}

type bucket struct {
	mu   sync.Mutex
	root waitNode // sentinel; root.next is the oldest waiter
}

var buckets [numBuckets]bucket

func init() {
	for i := range buckets {
		r := &buckets[i].root
		r.prev = r
		r.next = r
	}
}

// mix is Thomas Wang's 64-bit hash, good enough to spread heap addresses
// over the bucket table.
func mix(x uint64) uint64 {
	x = (^x) + (x << 21)
	x ^= x >> 24
	x = x + (x << 3) + (x << 8)
	x ^= x >> 14
	x = x + (x << 2) + (x << 4)
	x ^= x >> 28
	x += x << 31
	return x
}

func bucketFor(addr uintptr) *bucket {
	return &buckets[mix(uint64(addr))%numBuckets]
}

func wait(addr *uint32, expected uint32) {
	b := bucketFor(uintptr(unsafe.Pointer(addr)))
	b.mu.Lock()
	if atomic.LoadUint32(addr) != expected {
		b.mu.Unlock()
		return
	}

	n := waitNode{addr: uintptr(unsafe.Pointer(addr))}
	n.wake.L = &b.mu
	n.prev = b.root.prev
	n.next = &b.root
	b.root.prev.next = &n
	b.root.prev = &n

	for !n.signaled {
		n.wake.Wait()
	}
	b.mu.Unlock()
}

func wake(addr *uint32, n uint32) {
	b := bucketFor(uintptr(unsafe.Pointer(addr)))
	b.mu.Lock()
	woken := uint32(0)
	for iter := b.root.next; woken < n && iter != &b.root; {
		next := iter.next
		if iter.addr == uintptr(unsafe.Pointer(addr)) {
			iter.prev.next = iter.next
			iter.next.prev = iter.prev
			iter.signaled = true
			iter.wake.Signal()
			woken++
		}
		iter = next
	}
	b.mu.Unlock()
}
