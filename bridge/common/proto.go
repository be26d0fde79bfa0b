package common

import (
	"fmt"
	"hash/fnv"
)

// --------------------------------------------------------------------------
// Segment layout
// --------------------------------------------------------------------------

const (
	// CellSize is the width of a header cell in bytes.
	CellSize = 4

	// HeaderSize is the size of the segment header:
	// RequestReady | ResponseReady | PayloadLength | Sequence
	HeaderSize = 4 * CellSize

	// MinRequestSize is the encoded size of the smallest possible request
	// (magic, op id, sequence, empty argument list).
	MinRequestSize = 1 + 4 + 4 + 1 + 1
)

// Sequence cell states. 0 means the caller owns the segment, a sequence number
// means a request is posted and the callee owns it. The callee sets SeqBusy
// while it reads the request or writes the response.
const (
	SeqIdle uint32 = 0
	SeqBusy uint32 = 1 << 31
	SeqMask uint32 = SeqBusy - 1
)

// --------------------------------------------------------------------------
// Operation identifiers
// --------------------------------------------------------------------------

// OpID identifies an operation in the registry.
type OpID uint32

// String returns the hexadecimal representation of the id.
func (id OpID) String() string {
	return fmt.Sprintf("0x%08x", uint32(id))
}

// OpIDFor derives a stable id from an operation name (32 bit FNV-1a).
// Both sides of a channel use it, so operations can be called by name.
func OpIDFor(name string) OpID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return OpID(h.Sum32())
}

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Request is written by the caller into the segment.
// Args may only contain values the wire codec understands: nil, booleans,
// numbers, strings, byte slices and nested lists/records of those.
type Request struct {
	OpID OpID
	Seq  uint32
	Args []any
}

// Response is written by the callee into the segment.
// Exactly one of Value (Ok == true) or Error (Ok == false) is meaningful.
type Response struct {
	Seq   uint32
	Ok    bool
	Value any
	Error *ErrorDescriptor
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a new request
func NewRequest(op OpID, seq uint32, args []any) *Request {
	return &Request{
		OpID: op,
		Seq:  seq,
		Args: args,
	}
}

// NewValueResponse creates a successful response
func NewValueResponse(seq uint32, value any) *Response {
	return &Response{
		Seq:   seq,
		Ok:    true,
		Value: value,
	}
}

// NewErrorResponse creates a failed response
func NewErrorResponse(seq uint32, err error) *Response {
	d := Describe(err)
	return &Response{
		Seq:   seq,
		Error: &d,
	}
}
