package segment

import (
	"fmt"

	"github.com/ValentinKolb/dBridge/bridge/common"
)

// Messenger owns a Segment and exposes its header cells and bounds-checked
// access to the payload area. Both sides of a channel create their own
// Messenger over the same Segment.
type Messenger struct {
	seg           *Segment
	requestReady  *Cell
	responseReady *Cell
	payloadLength *Cell
	sequence      *Cell
}

// NewMessenger creates a Messenger for seg
func NewMessenger(seg *Segment) *Messenger {
	return &Messenger{
		seg:           seg,
		requestReady:  seg.cell(cellRequestReady),
		responseReady: seg.cell(cellResponseReady),
		payloadLength: seg.cell(cellPayloadLength),
		sequence:      seg.cell(cellSequence),
	}
}

// Segment returns the underlying segment
func (m *Messenger) Segment() *Segment {
	return m.seg
}

// Capacity returns the number of payload bytes available
func (m *Messenger) Capacity() int {
	return m.seg.Len() - common.HeaderSize
}

// SetPayload writes PayloadLength and then copies b into the payload area.
// If b does not fit, ErrCapacity is returned and nothing is written.
func (m *Messenger) SetPayload(b []byte) error {
	if m.seg.Closed() {
		return ErrClosed
	}
	if len(b) > m.Capacity() {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrCapacity, len(b), m.Capacity())
	}
	m.payloadLength.Store(uint32(len(b)))
	copy(m.seg.mem[common.HeaderSize:], b)
	return nil
}

// Payload returns a view of the first n payload bytes. The view aliases the
// segment; callers that keep data must copy it.
func (m *Messenger) Payload(n int) ([]byte, error) {
	if m.seg.Closed() {
		return nil, ErrClosed
	}
	if n < 0 || n > m.Capacity() {
		return nil, fmt.Errorf("%w: length %d, capacity %d", ErrCapacity, n, m.Capacity())
	}
	return m.seg.mem[common.HeaderSize : common.HeaderSize+n], nil
}

// CurrentPayload returns a view of the payload as announced by PayloadLength
func (m *Messenger) CurrentPayload() ([]byte, error) {
	return m.Payload(int(m.payloadLength.Load()))
}

// Reset puts all header cells back to idle
func (m *Messenger) Reset() {
	m.requestReady.Store(0)
	m.responseReady.Store(0)
	m.payloadLength.Store(0)
	m.sequence.Store(0)
}

func (m *Messenger) RequestReady() *Cell {
	return m.requestReady
}

func (m *Messenger) ResponseReady() *Cell {
	return m.responseReady
}

func (m *Messenger) PayloadLength() *Cell {
	return m.payloadLength
}

// Sequence is the ownership token of the in-flight call. 0 means the caller
// owns the segment; a sequence number means the callee owns it.
func (m *Messenger) Sequence() *Cell {
	return m.sequence
}
