//go:build linux && (amd64 || arm64)

package segment

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex operations. The private variants are used for heap segments,
// the shared ones for segments mapped with MAP_SHARED.
const (
	futexWait        = 0
	futexWake        = 1
	futexPrivateFlag = 128
)

func futexOp(op int, shared bool) uintptr {
	if shared {
		return uintptr(op)
	}
	return uintptr(op | futexPrivateFlag)
}

// wait blocks on addr while it holds val. EAGAIN (value changed before the
// syscall) and EINTR count as wake-ups, the caller re-checks the condition.
func wait(addr *uint32, val uint32, timeout time.Duration, shared bool) error {
	var tsp unsafe.Pointer
	if timeout > 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsp = unsafe.Pointer(&ts)
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOp(futexWait, shared),
		uintptr(val),
		uintptr(tsp),
		0,
		0,
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrWaitTimeout
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// wake wakes up to n waiters on addr
func wake(addr *uint32, n int, shared bool) int {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOp(futexWake, shared),
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		Logger.Warningf("futex wake failed: %v", errno)
		return 0
	}
	return int(r1)
}
