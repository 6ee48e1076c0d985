//go:build linux

package futex

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex operation codes. These are stable Linux ABI values (see
// include/uapi/linux/futex.h) that golang.org/x/sys/unix does not export.
const (
	futexWait = 0
	futexWake = 1
)

// wait issues FUTEX_WAIT. The kernel atomically rechecks *addr == expected
// before sleeping, which is what makes the compare-and-park race-free.
// EAGAIN (value changed) and EINTR (signal) both surface as a plain return;
// callers loop and re-validate.
func wait(addr *uint32, expected uint32) {
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWait),
		uintptr(expected),
		0, 0, 0)
}

// wake issues FUTEX_WAKE for up to n waiters on addr.
func wake(addr *uint32, n uint32) {
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWake),
		uintptr(n),
		0, 0, 0)
}
