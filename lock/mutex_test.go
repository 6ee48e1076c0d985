package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestMutexCounter is the end-to-end scenario: 2N goroutines run M
// iterations each of lock; count += ±1; unlock. The final count must
// equal the initial value.
func TestMutexCounter(t *testing.T) {
	const (
		n     = 4
		iters = 5000
	)

	m := New()
	count := 0

	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				m.Lock()
				count++
				m.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				m.Lock()
				count--
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	if count != 0 {
		t.Errorf("final count = %d, want 0", count)
	}
}

// TestMutualExclusion spot-checks invariant 3: an observer counter
// incremented under the lock never shows more than one holder.
func TestMutualExclusion(t *testing.T) {
	const (
		goroutines = 8
		iters      = 2000
	)

	m := New()
	var users atomic.Int32
	var violations atomic.Int32

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				m.Lock()
				if users.Add(1) > 1 {
					violations.Add(1)
				}
				users.Add(-1)
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	if v := violations.Load(); v != 0 {
		t.Errorf("observed %d moments with more than one lock holder", v)
	}
}

// TestZeroSpinStillBlocks exercises the boundary: with maxSpin = 0 the
// lock must still block and wake correctly, since spinning is purely an
// optimization.
func TestZeroSpinStillBlocks(t *testing.T) {
	m := NewMaxSpin(0)
	m.Lock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock succeeded while the mutex was held")
	case <-time.After(100 * time.Millisecond):
	}

	m.Unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("parked locker was not woken by Unlock")
	}
	m.Unlock()
}

// TestZeroSpinCounter re-runs the counter scenario without any spinning,
// forcing every contended acquisition through the futex.
func TestZeroSpinCounter(t *testing.T) {
	const (
		goroutines = 6
		iters      = 2000
	)

	m := NewMaxSpin(0)
	count := 0

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				m.Lock()
				count++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	if count != goroutines*iters {
		t.Errorf("count = %d, want %d", count, goroutines*iters)
	}
}

func TestMutexIsLocker(t *testing.T) {
	var _ sync.Locker = New()
}
