package client

import (
	"errors"
	"runtime"
	"time"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/ValentinKolb/dBridge/bridge/segment"
	"github.com/ValentinKolb/dBridge/bridge/serializer"
)

// ErrInvalidTimeout is returned for calls with a timeout <= 0
var ErrInvalidTimeout = common.ErrProtocolViolation.WithMessage("timeout must be positive")

// reclaimLost runs after a failed reclaim, before the sequence cell is read
// again. Tests use it to interleave the callee.
var reclaimLost = func() {}

// invoker performs one synchronous call at a time over a segment. It is not
// safe for concurrent use; Channel serializes access.
type invoker struct {
	msg        *segment.Messenger
	serializer serializer.IBridgeSerializer
	doorbell   chan<- struct{}
	seq        uint32
}

func newInvoker(seg *segment.Segment, s serializer.IBridgeSerializer, doorbell chan<- struct{}) *invoker {
	return &invoker{
		msg:        segment.NewMessenger(seg),
		serializer: s,
		doorbell:   doorbell,
	}
}

// nextSeq returns the next sequence number, never 0 and never with the busy bit set
func (inv *invoker) nextSeq() uint32 {
	inv.seq = (inv.seq + 1) & common.SeqMask
	if inv.seq == common.SeqIdle {
		inv.seq = 1
	}
	return inv.seq
}

// call posts the request, wakes the callee and blocks until the response
// arrives or timeout elapses.
func (inv *invoker) call(op common.OpID, args []any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	msg := inv.msg
	seq := inv.nextSeq()

	// encode and size check happen before the segment is touched
	data, err := inv.serializer.EncodeRequest(common.NewRequest(op, seq, args))
	if err != nil {
		if errors.Is(err, common.ErrSerialization) {
			return nil, err
		}
		return nil, common.ErrSerialization.WithMessage(err.Error())
	}
	if len(data) > msg.Capacity() {
		return nil, common.ErrRequestTooLarge.WithMessagef("request of %d bytes exceeds segment capacity of %d bytes", len(data), msg.Capacity())
	}

	// post the request
	msg.ResponseReady().Store(0)
	if err := msg.SetPayload(data); err != nil {
		return nil, common.ErrChannelNotConnected.WithMessage(err.Error())
	}
	msg.Sequence().Store(seq)
	msg.RequestReady().Store(1)
	msg.RequestReady().Wake(1)
	inv.ring()

	if err := inv.await(time.Now().Add(timeout)); err != nil {
		if !errors.Is(err, segment.ErrWaitTimeout) {
			Logger.Warningf("waiting for response %d failed: %v", seq, err)
		}
		return inv.abandon(seq, op, timeout)
	}
	return inv.receive(seq)
}

// ring notifies the dispatcher. Rings coalesce, one pending ring is enough.
func (inv *invoker) ring() {
	select {
	case inv.doorbell <- struct{}{}:
	default:
	}
}

// await blocks until ResponseReady is set or the deadline passes
func (inv *invoker) await(deadline time.Time) error {
	ready := inv.msg.ResponseReady()
	for ready.Load() != 1 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return segment.ErrWaitTimeout
		}
		if err := ready.Wait(0, remaining); err != nil && !errors.Is(err, segment.ErrWaitTimeout) {
			return err
		}
	}
	return nil
}

// abandon takes the segment back after a timeout. If the callee is writing
// the response at this moment, the write is awaited and its result returned.
func (inv *invoker) abandon(seq uint32, op common.OpID, timeout time.Duration) (any, error) {
	msg := inv.msg
	sequence := msg.Sequence()
	for {
		if sequence.CompareAndSwap(seq, common.SeqIdle) {
			msg.RequestReady().Store(0)
			msg.ResponseReady().Store(0)
			return nil, common.ErrTimeout.WithMessagef("operation %s did not respond within %s", op, timeout)
		}

		reclaimLost()

		switch cur := sequence.Load(); cur {
		case seq:
			// callee released its read claim in between, reclaim again
		case seq | common.SeqBusy:
			// callee holds the segment for a moment
			runtime.Gosched()
		case common.SeqIdle:
			// response written between the timeout and the reclaim
			for msg.ResponseReady().Load() != 1 {
				runtime.Gosched()
			}
			Logger.Debugf("late response %d delivered", seq)
			return inv.receive(seq)
		default:
			msg.Reset()
			return nil, common.ErrProtocolViolation.WithMessagef("sequence cell holds %#x while waiting for %d", cur, seq)
		}
	}
}

// receive decodes the response and returns the segment to idle
func (inv *invoker) receive(seq uint32) (any, error) {
	msg := inv.msg

	var resp *common.Response
	payload, err := msg.CurrentPayload()
	if err == nil {
		resp, err = inv.serializer.DecodeResponse(payload)
	}
	msg.RequestReady().Store(0)
	msg.ResponseReady().Store(0)

	if err != nil {
		if errors.Is(err, common.ErrProtocolViolation) {
			return nil, err
		}
		return nil, common.ErrProtocolViolation.WithMessage(err.Error())
	}
	if resp.Seq != seq {
		return nil, common.ErrProtocolViolation.WithMessagef("response carries sequence %d, expected %d", resp.Seq, seq)
	}
	if !resp.Ok {
		return nil, common.FromDescriptor(*resp.Error)
	}
	return resp.Value, nil
}
