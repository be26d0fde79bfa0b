package segment

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger(common.LoggerSegment)

var (
	// ErrWaitTimeout is returned by Cell.Wait when the timeout elapsed.
	ErrWaitTimeout = errors.New("segment: wait timed out")
	// ErrCapacity is returned when a payload does not fit into the segment.
	ErrCapacity = errors.New("segment: payload exceeds capacity")
	// ErrClosed is returned when a closed segment is used.
	ErrClosed = errors.New("segment: closed")
)

// Header cell indices
const (
	cellRequestReady = iota
	cellResponseReady
	cellPayloadLength
	cellSequence
)

// MinLength is the smallest segment length accepted by New.
const MinLength = common.HeaderSize + common.MinRequestSize + 1

// Segment is a fixed-size memory block. It is allocated once and never grows.
type Segment struct {
	mem    []byte
	shared bool   // backed by a MAP_SHARED mapping
	name   string // shared memory name, empty for heap segments
	path   string
	unmap  func([]byte) error
	closed atomic.Bool
}

// New allocates a heap segment of the given total length.
// The memory is allocated as 64 bit words so the header cells are aligned.
func New(length int) (*Segment, error) {
	if length < MinLength {
		return nil, fmt.Errorf("segment length %d is below minimum %d", length, MinLength)
	}
	words := make([]uint64, (length+7)/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), length)
	return &Segment{mem: mem}, nil
}

// Len returns the total length of the segment (header + payload)
func (s *Segment) Len() int {
	return len(s.mem)
}

// Name returns the shared memory name, or "" for heap segments
func (s *Segment) Name() string {
	return s.name
}

// Shared reports whether the segment is backed by named shared memory
func (s *Segment) Shared() bool {
	return s.shared
}

// Bytes exposes the raw memory, header included.
func (s *Segment) Bytes() []byte {
	return s.mem
}

// Closed reports whether Close was called
func (s *Segment) Closed() bool {
	return s.closed.Load()
}

// Close releases the mapping of shared segments. Heap segments are left to the
// garbage collector. Close is idempotent.
func (s *Segment) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.unmap != nil {
		if err := s.unmap(s.mem); err != nil {
			return fmt.Errorf("unmap segment %s: %w", s.name, err)
		}
	}
	return nil
}

func (s *Segment) cell(i int) *Cell {
	return &Cell{
		p:      (*uint32)(unsafe.Pointer(&s.mem[i*common.CellSize])),
		shared: s.shared,
	}
}

// --------------------------------------------------------------------------
// Cell
// --------------------------------------------------------------------------

// Cell is a directly addressable 32 bit header cell.
type Cell struct {
	p      *uint32
	shared bool
}

func (c *Cell) Load() uint32 {
	return atomic.LoadUint32(c.p)
}

func (c *Cell) Store(v uint32) {
	atomic.StoreUint32(c.p, v)
}

func (c *Cell) CompareAndSwap(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(c.p, old, new)
}

// Wait blocks until the cell no longer holds old, a Wake arrives or the
// timeout elapses. Spurious returns are possible; callers re-check the value.
// A timeout <= 0 waits without limit.
func (c *Cell) Wait(old uint32, timeout time.Duration) error {
	if atomic.LoadUint32(c.p) != old {
		return nil
	}
	return wait(c.p, old, timeout, c.shared)
}

// Wake wakes up to n goroutines blocked in Wait on this cell and returns how
// many were woken (0 where the platform cannot tell).
func (c *Cell) Wake(n int) int {
	return wake(c.p, n, c.shared)
}
