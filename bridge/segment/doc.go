// Package segment implements the fixed-size memory block shared by the caller
// and the callee of a channel, and the Messenger that gives both sides
// bounds-checked access to it.
//
// Layout (all cells are 32 bit, native byte order, accessed atomically):
//
//	offset 0   RequestReady   0 idle, 1 request posted
//	offset 4   ResponseReady  0 pending, 1 response written
//	offset 8   PayloadLength  length of the bytes in the payload area
//	offset 12  Sequence       ownership token of the in-flight call
//	offset 16  Payload        Len() - 16 bytes
//
// Segments either live on the Go heap (New) or in named shared memory mapped
// with mmap (CreateShared / OpenShared). Cells support a futex-like Wait/Wake
// pair: on linux/amd64 and linux/arm64 it is backed by the futex syscall, on
// all other platforms Wait polls with a bounded backoff and Wake is a no-op.
package segment
