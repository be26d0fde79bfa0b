// Package serializer provides the wire codecs used to place requests and
// responses into a shared segment. It defines a common interface and two
// implementations with different trade-offs.
//
// Key Components:
//
//   - IBridgeSerializer: Core interface that all codecs must satisfy.
//
//   - binarySerializerImpl: Self-describing tagged binary format. Every value
//     carries a one byte tag (nil, false, true, int, uint, float, string, bytes,
//     list, record) followed by its data. Integers are varints, byte slices are
//     copied inline with a 32 bit length prefix and record keys are written in
//     sorted order, so equal values always encode to equal bytes.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging. It is lossy:
//     byte slices decode as base64 strings and every number as float64.
//
// Message layout (binary):
//
//	request:  'Q' | op id (uint32) | seq (uint32) | args (list)
//	response: 'P' | seq (uint32) | flags (bit 0 = ok) | value
//	                                                 | name, message (error)
//
// Supported values are nil, booleans, all integer and float widths, strings,
// byte slices, slices and arrays of supported values and maps with string keys.
// Pointers are followed. Structs, channels and functions are rejected with a
// SerializationError, as are circular references and nesting deeper than
// MaxDepth. Decoding never retains the input, so it is safe to decode straight
// from segment memory. Truncated or malformed input is a ProtocolViolation.
//
// Decoded values use the widest type: int64, uint64, float64, []any and
// map[string]any.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.EncodeRequest(common.NewRequest(op, seq, args))
//	// ... place data into the segment ...
//	req, err := s.DecodeRequest(payload)
package serializer
