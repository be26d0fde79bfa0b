// Package bridge provides synchronous calls between a caller goroutine and a
// callee goroutine that share nothing but a fixed-size memory segment. The
// caller writes a request into the segment, wakes the callee and blocks until
// the response is written back into the same segment or the call times out.
//
// The package is organized into several subpackages:
//
//   - common: Protocol elements (Request, Response, OpID), the closed set of
//     error names that cross the segment boundary, channel configuration and
//     logging.
//
//   - segment: The segment itself (heap or named shared memory) and the
//     Messenger view over its four header cells and payload region.
//
//   - serializer: Encoding of requests and responses into the payload region
//     (binary, JSON).
//
//   - registry: The table of operations a callee can execute, addressed by id
//     or by name.
//
//   - client: The caller side. A Channel is connected once by its controller
//     and then performs at most one call at a time.
//
//   - server: The callee side. A Dispatcher watches bound segments, runs the
//     requested operation on a worker pool and writes the response.
package bridge
