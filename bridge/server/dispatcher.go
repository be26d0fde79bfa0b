package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/ValentinKolb/dBridge/bridge/registry"
	"github.com/ValentinKolb/dBridge/bridge/segment"
	"github.com/ValentinKolb/dBridge/bridge/serializer"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger(common.LoggerServer)

var (
	ErrDispatcherClosed = errors.New("dispatcher closed")
	ErrAlreadyServing   = errors.New("dispatcher is already serving")
	ErrBindQueueFull    = errors.New("too many pending segment bindings")
)

// PanicErrorName is the error name callers see when a handler panicked
const PanicErrorName = "Panic"

// bindQueueSize bounds the bindings waiting to be picked up by Serve
const bindQueueSize = 8

// Dispatch results, used as metric labels
const (
	resultOK        = "ok"
	resultError     = "error"
	resultUnknown   = "unknown"
	resultMalformed = "malformed"
	resultOverload  = "overload"
	resultPanic     = "panic"
)

var staleResponses = metrics.NewCounter(`dbridge_stale_responses_total`)

func countDispatch(result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dbridge_dispatch_total{result=%q}`, result)).Inc()
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

type options struct {
	workers int
}

// Option configures a Dispatcher
type Option func(*options)

// WithWorkers sets the number of handlers that may run at the same time.
// Requests arriving while all workers are busy are answered with an
// OperationError.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

// binding states
const (
	bindPending int32 = iota
	bindActive
	bindWithdrawn
)

// binding is a segment the dispatcher serves. lastSeq is only touched by the
// Serve goroutine.
type binding struct {
	msg      *segment.Messenger
	doorbell <-chan struct{}
	token    uint64
	state    atomic.Int32
	lastSeq  uint32
}

// Dispatcher is the callee side of a channel. It waits for doorbell rings,
// reads the posted request, runs the registered handler on a worker pool and
// writes the response back into the segment.
type Dispatcher struct {
	registry   *registry.Registry
	serializer serializer.IBridgeSerializer
	pool       *ants.Pool

	binds     chan *binding
	pending   *xsync.MapOf[uint64, *binding]
	nextToken atomic.Uint64
	acked     atomic.Uint64
	inflight  *xsync.MapOf[uint32, time.Time]

	// ctx is handed to handlers and cancelled by Close
	ctx       context.Context
	cancel    context.CancelFunc
	serving   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher executing operations from reg. The
// serializer must match the one used by the caller.
//
// A dispatcher serves a single segment at a time. Binding a second channel to
// the same dispatcher takes it over from the first, whose calls then time out.
// Use one dispatcher per channel.
//
// Usage:
//
//	reg := registry.New()
//	reg.RegisterNamed("ping", pingHandler)
//	d, err := server.NewDispatcher(reg, serializer.NewBinarySerializer())
//	go d.Serve(ctx)
//	ch.Connect(ctx, ctrl, d, cfg)
func NewDispatcher(reg *registry.Registry, s serializer.IBridgeSerializer, opts ...Option) (*Dispatcher, error) {
	if reg == nil {
		return nil, errors.New("registry must not be nil")
	}
	if s == nil {
		s = serializer.NewBinarySerializer()
	}

	o := options{workers: common.DefaultDispatcherWorkers}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := ants.NewPool(o.workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			Logger.Errorf("worker panic: %v", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	Logger.Debugf("created dispatcher (%d workers, %s serializer, %d operations)", o.workers, s.Name(), reg.Len())

	return &Dispatcher{
		registry:   reg,
		serializer: s,
		pool:       pool,
		binds:      make(chan *binding, bindQueueSize),
		pending:    xsync.NewMapOf[uint64, *binding](),
		inflight:   xsync.NewMapOf[uint32, time.Time](),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Bind hands a segment to the dispatcher. The returned token is acknowledged
// (see Acknowledged) once Serve has switched to the segment. A later binding
// replaces an earlier one, also when it belongs to another channel. A binding
// that is not acknowledged yet can be withdrawn with Unbind.
func (d *Dispatcher) Bind(seg *segment.Segment, doorbell <-chan struct{}) (uint64, error) {
	if d.closed.Load() {
		return 0, ErrDispatcherClosed
	}
	if seg == nil || doorbell == nil {
		return 0, errors.New("segment and doorbell must not be nil")
	}

	b := &binding{
		msg:      segment.NewMessenger(seg),
		doorbell: doorbell,
		token:    d.nextToken.Add(1),
	}
	d.pending.Store(b.token, b)
	select {
	case d.binds <- b:
		return b.token, nil
	default:
		d.pending.Delete(b.token)
		return 0, ErrBindQueueFull
	}
}

// Unbind withdraws a binding Serve has not picked up yet. It returns false if
// Serve already switched to it; the binding is then served like any other.
func (d *Dispatcher) Unbind(token uint64) bool {
	b, ok := d.pending.LoadAndDelete(token)
	if !ok {
		return false
	}
	if !b.state.CompareAndSwap(bindPending, bindWithdrawn) {
		return false
	}
	Logger.Debugf("withdrew binding %d", token)
	return true
}

// Acknowledged reports whether Serve picked up the binding with the given
// token (or a later one)
func (d *Dispatcher) Acknowledged(token uint64) bool {
	return d.acked.Load() >= token
}

// InFlight returns the number of handlers currently running
func (d *Dispatcher) InFlight() int {
	return d.inflight.Size()
}

// Serve runs the dispatch loop until ctx is cancelled or Close is called.
// Only one Serve may run at a time.
func (d *Dispatcher) Serve(ctx context.Context) error {
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	if !d.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	defer d.serving.Store(false)

	Logger.Infof("dispatcher serving")

	var cur *binding
	var doorbell <-chan struct{}
	for {
		select {
		case <-ctx.Done():
			Logger.Infof("dispatcher stopped: %v", ctx.Err())
			return nil
		case <-d.ctx.Done():
			Logger.Infof("dispatcher closed")
			return nil
		case b := <-d.binds:
			if !b.state.CompareAndSwap(bindPending, bindActive) {
				Logger.Debugf("skipping withdrawn binding %d", b.token)
				continue
			}
			d.pending.Delete(b.token)
			cur, doorbell = b, b.doorbell
			d.acked.Store(b.token)
			Logger.Debugf("bound segment %q (%d bytes, token %d)", b.msg.Segment().Name(), b.msg.Segment().Len(), b.token)
			// a request may already be waiting on the new segment
			d.dispatch(cur)
		case <-doorbell:
			d.dispatch(cur)
		}
	}
}

// Close stops Serve, cancels the handler context and releases the worker pool.
// Running handlers get up to timeout to return.
func (d *Dispatcher) Close(timeout time.Duration) error {
	var err error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.cancel()
		if timeout > 0 {
			err = d.pool.ReleaseTimeout(timeout)
		} else {
			d.pool.Release()
		}
	})
	return err
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// dispatch reads the request posted on b, if any, and submits it to the pool.
// Doorbell rings may be coalesced or spurious; the header cells decide.
func (d *Dispatcher) dispatch(b *binding) {
	msg := b.msg
	if msg.Segment().Closed() || msg.RequestReady().Load() != 1 {
		return
	}
	seq := msg.Sequence().Load()
	if seq == common.SeqIdle || seq&common.SeqBusy != 0 || seq == b.lastSeq {
		return
	}

	// claim the segment while reading, the caller cannot abandon in between
	if !msg.Sequence().CompareAndSwap(seq, seq|common.SeqBusy) {
		return
	}
	var req *common.Request
	payload, err := msg.CurrentPayload()
	if err == nil {
		req, err = d.serializer.DecodeRequest(payload)
	}
	msg.Sequence().Store(seq)
	b.lastSeq = seq

	if err != nil {
		countDispatch(resultMalformed)
		Logger.Warningf("failed to read request %d: %v", seq, err)
		d.respond(msg, seq, common.NewErrorResponse(seq, protocolError(err)))
		return
	}
	if req.Seq != seq {
		countDispatch(resultMalformed)
		d.respond(msg, seq, common.NewErrorResponse(seq,
			common.ErrProtocolViolation.WithMessagef("request carries sequence %d, header says %d", req.Seq, seq)))
		return
	}

	op, ok := d.registry.Lookup(req.OpID)
	if !ok {
		countDispatch(resultUnknown)
		Logger.Debugf("unknown operation %s (seq %d)", req.OpID, seq)
		d.respond(msg, seq, common.NewErrorResponse(seq,
			common.ErrUnknownOperation.WithMessagef("operation %s is not registered", req.OpID)))
		return
	}

	d.inflight.Store(seq, time.Now())
	if err := d.pool.Submit(func() { d.invoke(msg, seq, op, req.Args) }); err != nil {
		d.inflight.Delete(seq)
		countDispatch(resultOverload)
		if errors.Is(err, ants.ErrPoolOverload) {
			Logger.Warningf("worker pool exhausted, rejecting %s (seq %d)", op.Name, seq)
		}
		d.respond(msg, seq, common.NewErrorResponse(seq,
			common.ErrOperation.WithMessagef("dispatcher cannot run %s: %v", op.Name, err)))
	}
}

func protocolError(err error) error {
	if errors.Is(err, common.ErrProtocolViolation) {
		return err
	}
	return common.ErrProtocolViolation.WithMessage(err.Error())
}

// invoke runs on a pool worker
func (d *Dispatcher) invoke(msg *segment.Messenger, seq uint32, op registry.Operation, args []any) {
	defer d.inflight.Delete(seq)

	value, err := d.run(op, args)
	var resp *common.Response
	if err != nil {
		if common.RemoteName(err) == PanicErrorName {
			countDispatch(resultPanic)
		} else {
			countDispatch(resultError)
		}
		resp = common.NewErrorResponse(seq, err)
	} else {
		countDispatch(resultOK)
		resp = common.NewValueResponse(seq, value)
	}
	d.respond(msg, seq, resp)
}

// run executes the handler and turns a panic into an OperationError
func (d *Dispatcher) run(op registry.Operation, args []any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("operation %s panicked: %v", op.Name, r)
			value = nil
			err = &common.BridgeError{
				Name:    common.NameOperationError,
				Remote:  PanicErrorName,
				Message: fmt.Sprint(r),
			}
		}
	}()
	return op.Handler(d.ctx, args)
}

// respond writes resp into the segment unless the caller abandoned the call.
func (d *Dispatcher) respond(msg *segment.Messenger, seq uint32, resp *common.Response) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("failed to write response %d: %v", seq, r)
		}
	}()

	data, err := d.serializer.EncodeResponse(resp)
	switch {
	case err != nil:
		Logger.Warningf("failed to encode response %d: %v", seq, err)
		data, err = d.encodeFirstFitting(msg.Capacity(),
			common.NewErrorResponse(seq, common.ErrSerialization.WithMessage("failed to encode response: "+common.Describe(err).Message)),
			common.NewErrorResponse(seq, common.ErrSerialization.WithMessage("failed to encode response")),
		)
	case len(data) > msg.Capacity() && !resp.Ok:
		// keep the error name, drop the message
		data, err = d.encodeFirstFitting(msg.Capacity(),
			&common.Response{Seq: seq, Error: &common.ErrorDescriptor{Name: resp.Error.Name}},
		)
	case len(data) > msg.Capacity():
		Logger.Warningf("response %d too large: %d bytes, capacity %d", seq, len(data), msg.Capacity())
		data, err = d.encodeFirstFitting(msg.Capacity(),
			common.NewErrorResponse(seq, common.ErrSerialization.WithMessagef("response too large: %d bytes, capacity %d", len(data), msg.Capacity())),
			common.NewErrorResponse(seq, common.ErrSerialization.WithMessage("response too large")),
		)
	}
	if err != nil {
		Logger.Errorf("cannot report outcome of call %d: %v", seq, err)
		return
	}

	sequence := msg.Sequence()
	if msg.Segment().Closed() || !sequence.CompareAndSwap(seq, seq|common.SeqBusy) {
		staleResponses.Inc()
		Logger.Debugf("dropping stale response %d", seq)
		return
	}
	if err := msg.SetPayload(data); err != nil {
		sequence.Store(seq)
		Logger.Errorf("failed to write response %d: %v", seq, err)
		return
	}
	sequence.Store(common.SeqIdle)
	msg.ResponseReady().Store(1)
	msg.ResponseReady().Wake(1)
}

// encodeFirstFitting encodes the first candidate that fits into capacity
func (d *Dispatcher) encodeFirstFitting(capacity int, candidates ...*common.Response) ([]byte, error) {
	for _, c := range candidates {
		data, err := d.serializer.EncodeResponse(c)
		if err != nil {
			return nil, err
		}
		if len(data) <= capacity {
			return data, nil
		}
	}
	return nil, fmt.Errorf("response does not fit into %d bytes", capacity)
}
