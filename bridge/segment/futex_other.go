//go:build !linux || !(amd64 || arm64)

package segment

import (
	"sync/atomic"
	"time"
)

const (
	pollMinInterval = time.Microsecond
	pollMaxInterval = time.Millisecond
)

// wait polls addr until it changes or the timeout elapses. The interval
// doubles from pollMinInterval up to pollMaxInterval.
func wait(addr *uint32, val uint32, timeout time.Duration, _ bool) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	interval := pollMinInterval
	for atomic.LoadUint32(addr) == val {
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrWaitTimeout
			}
			if interval > remaining {
				interval = remaining
			}
		}
		time.Sleep(interval)
		if interval < pollMaxInterval {
			interval *= 2
		}
	}
	return nil
}

// wake is a no-op, pollers observe the store on their next tick
func wake(_ *uint32, _ int, _ bool) int {
	return 0
}
