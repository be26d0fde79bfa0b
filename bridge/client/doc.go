// Package client implements the caller side of a bridge: the Channel and its
// lifecycle (Disconnected, Connecting, Ready) and the invoker that performs a
// synchronous call over the shared segment.
//
// A call runs entirely on the calling goroutine:
//
//  1. The request is encoded. Encoding failures and requests larger than the
//     segment's payload capacity are reported before the segment is touched.
//  2. Payload, PayloadLength and the call's sequence number are written,
//     RequestReady is set and the callee's doorbell is rung.
//  3. The goroutine blocks on the ResponseReady cell until the callee sets it
//     or the timeout elapses.
//  4. On timeout the caller takes the segment back by swapping the sequence
//     cell to 0. A callee that finishes later finds the sequence changed and
//     drops its response, so a late write never lands in a following call.
//
// Only one call is in flight per Channel; concurrent callers queue on a mutex.
//
// Usage:
//
//	ctrl := client.NewController()
//	ch := client.NewChannel(ctrl)
//	if err := ch.Connect(ctx, ctrl, dispatcher, common.DefaultChannelConfig()); err != nil {
//		return err
//	}
//	defer ch.Close()
//
//	v, err := ch.CallNamed("fs.stat", "/a.txt")
//	if errors.Is(err, common.ErrTimeout) {
//		// the callee did not answer in time
//	}
package client
