package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/ValentinKolb/dBridge/bridge/segment"
	"github.com/ValentinKolb/dBridge/bridge/serializer"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger(common.LoggerClient)

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// State is the lifecycle state of a Channel
type State int32

const (
	Disconnected State = iota
	Connecting
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Ready:
		return "Ready"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// --------------------------------------------------------------------------
// Controller and Callee
// --------------------------------------------------------------------------

var controllerIDs atomic.Uint64

// Controller is the capability to connect a channel. Only the controller a
// channel was created with may connect it.
type Controller struct {
	id uint64
}

// NewController creates a new, unique controller
func NewController() *Controller {
	return &Controller{id: controllerIDs.Add(1)}
}

func (c *Controller) String() string {
	return fmt.Sprintf("controller-%d", c.id)
}

// Callee is the receiving side a channel binds its segment to. It is
// implemented by *server.Dispatcher, which serves one segment at a time: a
// second channel bound to the same dispatcher takes it over from the first.
type Callee interface {
	// Bind hands the segment and the doorbell the caller rings after posting
	// a request to the callee. It returns a token for Acknowledged.
	Bind(seg *segment.Segment, doorbell <-chan struct{}) (uint64, error)
	// Acknowledged reports whether the callee is serving the binding
	Acknowledged(token uint64) bool
	// Unbind withdraws a binding that was not acknowledged. It returns false
	// if the callee switched to the binding in the meantime.
	Unbind(token uint64) bool
}

var errNotAcknowledged = errors.New("binding not acknowledged yet")

// --------------------------------------------------------------------------
// Channel
// --------------------------------------------------------------------------

// ChannelOption configures a Channel
type ChannelOption func(*Channel)

// WithSerializer sets the wire codec. It must match the callee's codec. By
// default the codec named in the connect configuration is used.
func WithSerializer(s serializer.IBridgeSerializer) ChannelOption {
	return func(ch *Channel) {
		ch.serializer = s
	}
}

// Channel is the caller side of a bridge. Calls block the calling goroutine
// until the callee answered or the timeout elapsed. Calls from several
// goroutines are executed one after the other.
type Channel struct {
	ctrl        *Controller
	state       atomic.Int32
	connectUsed atomic.Bool

	// mu serializes calls, attach and close
	mu          sync.Mutex
	cfg         common.ChannelConfig
	serializer  serializer.IBridgeSerializer
	seg         *segment.Segment
	ownsSegment bool
	invoker     *invoker
}

// NewChannel creates a disconnected channel owned by ctrl
func NewChannel(ctrl *Controller, opts ...ChannelOption) *Channel {
	ch := &Channel{ctrl: ctrl}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// State returns the current lifecycle state
func (ch *Channel) State() State {
	return State(ch.state.Load())
}

// IsReady reports whether calls can be made
func (ch *Channel) IsReady() bool {
	return ch.State() == Ready
}

// Segment returns the segment currently in use, nil when not connected
func (ch *Channel) Segment() *segment.Segment {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.seg
}

// Config returns the configuration of the last successful connect or attach
func (ch *Channel) Config() common.ChannelConfig {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.cfg
}

// Connect allocates a segment of cfg.SegmentLength bytes, binds it to callee
// and waits until the callee acknowledged it. Connect may be called exactly
// once per channel and only with the channel's controller.
func (ch *Channel) Connect(ctx context.Context, from *Controller, callee Callee, cfg common.ChannelConfig) error {
	if from == nil || from != ch.ctrl {
		return common.ErrProtocolViolation.WithMessage("connect must be issued by the channel's controller")
	}
	if ch.connectUsed.Load() {
		return common.ErrProtocolViolation.WithMessage("channel was already connected")
	}
	if callee == nil {
		return errors.New("callee must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid channel config: %w", err)
	}
	if !ch.connectUsed.CompareAndSwap(false, true) {
		return common.ErrProtocolViolation.WithMessage("channel was already connected")
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.state.Store(int32(Connecting))

	seg, err := allocate(cfg)
	if err != nil {
		ch.state.Store(int32(Disconnected))
		return fmt.Errorf("failed to allocate segment: %w", err)
	}

	if err := ch.bind(ctx, seg, true, callee, cfg); err != nil {
		ch.state.Store(int32(Disconnected))
		release(seg, true)
		return err
	}

	Logger.Infof("channel connected (%d bytes, %s)", seg.Len(), ch.serializer.Name())
	return nil
}

// Attach binds an existing segment to callee. Unlike Connect it can be used
// any number of times, a ready channel switches to the new segment. The
// header cells of seg are reset; the caller keeps ownership of seg.
func (ch *Channel) Attach(ctx context.Context, seg *segment.Segment, callee Callee, cfg common.ChannelConfig) error {
	if seg == nil || callee == nil {
		return errors.New("segment and callee must not be nil")
	}
	if seg.Closed() {
		return segment.ErrClosed
	}
	cfg.SegmentLength = seg.Len()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid channel config: %w", err)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	segment.NewMessenger(seg).Reset()
	if err := ch.bind(ctx, seg, false, callee, cfg); err != nil {
		return err
	}

	Logger.Infof("channel attached to segment %q (%d bytes)", seg.Name(), seg.Len())
	return nil
}

// bind hands seg to the callee, waits for the acknowledgement and swaps the
// channel over to seg. The caller holds ch.mu.
func (ch *Channel) bind(ctx context.Context, seg *segment.Segment, owned bool, callee Callee, cfg common.ChannelConfig) error {
	s := ch.serializer
	if s == nil {
		var err error
		if s, err = serializer.New(cfg.Serializer); err != nil {
			return err
		}
	}

	doorbell := make(chan struct{}, 1)
	token, err := callee.Bind(seg, doorbell)
	if err != nil {
		return fmt.Errorf("callee rejected segment: %w", err)
	}
	if err := awaitAcknowledge(ctx, callee, token, cfg.ConnectTimeout()); err != nil {
		if callee.Unbind(token) {
			return err
		}
		// the callee switched to seg after all, the old segment is unserved now
		Logger.Debugf("binding %d acknowledged late", token)
	}

	if ch.seg != nil && ch.seg != seg {
		release(ch.seg, ch.ownsSegment)
	}
	ch.seg, ch.ownsSegment = seg, owned
	ch.serializer = s
	ch.cfg = cfg
	ch.invoker = newInvoker(seg, s, doorbell)
	ch.state.Store(int32(Ready))
	return nil
}

// awaitAcknowledge polls the callee with exponential backoff until it
// acknowledged token, ctx is done or timeout elapsed
func awaitAcknowledge(ctx context.Context, callee Callee, token uint64, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond
	b.MaxElapsedTime = timeout

	err := backoff.Retry(func() error {
		if callee.Acknowledged(token) {
			return nil
		}
		return errNotAcknowledged
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("connect aborted: %w", ctxErr)
		}
		return common.ErrTimeout.WithMessagef("callee did not acknowledge the segment within %s", timeout)
	}
	return nil
}

func allocate(cfg common.ChannelConfig) (*segment.Segment, error) {
	if cfg.SharedName != "" {
		return segment.CreateShared(cfg.SharedName, cfg.SegmentLength)
	}
	return segment.New(cfg.SegmentLength)
}

// release closes a segment the channel allocated itself
func release(seg *segment.Segment, owned bool) {
	if !owned {
		return
	}
	if err := seg.Close(); err != nil {
		Logger.Warningf("failed to close segment: %v", err)
	}
	if err := seg.Unlink(); err != nil {
		Logger.Warningf("failed to unlink segment: %v", err)
	}
}

// Close disconnects the channel and releases a segment allocated by Connect.
// A closed channel can only be reused through Attach.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.state.Store(int32(Disconnected))
	if ch.seg != nil {
		release(ch.seg, ch.ownsSegment)
	}
	ch.seg, ch.invoker = nil, nil
	return nil
}

// --------------------------------------------------------------------------
// Calls
// --------------------------------------------------------------------------

// Call executes op on the callee with the default timeout of the channel
func (ch *Channel) Call(op common.OpID, args ...any) (any, error) {
	return ch.call(op, op.String(), 0, args)
}

// CallTimeout executes op on the callee and waits at most timeout
func (ch *Channel) CallTimeout(op common.OpID, timeout time.Duration, args ...any) (any, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	return ch.call(op, op.String(), timeout, args)
}

// CallNamed executes the operation registered under name (see
// registry.RegisterNamed) with the default timeout
func (ch *Channel) CallNamed(name string, args ...any) (any, error) {
	return ch.call(common.OpIDFor(name), name, 0, args)
}

// CallNamedTimeout is CallNamed with an explicit timeout
func (ch *Channel) CallNamedTimeout(name string, timeout time.Duration, args ...any) (any, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	return ch.call(common.OpIDFor(name), name, timeout, args)
}

// call runs one call while holding ch.mu. A timeout of 0 selects the
// configured default.
func (ch *Channel) call(op common.OpID, label string, timeout time.Duration, args []any) (value any, err error) {
	if !ch.IsReady() {
		return nil, common.ErrChannelNotConnected.WithMessagef("channel is %s", ch.State())
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	// Close may have won the race for the lock
	if ch.invoker == nil || !ch.IsReady() {
		return nil, common.ErrChannelNotConnected.WithMessagef("channel is %s", ch.State())
	}
	if timeout == 0 {
		timeout = ch.cfg.DefaultOpTimeout()
	}

	start := time.Now()
	defer func() {
		observeCall(label, start, err)
	}()
	return ch.invoker.call(op, args, timeout)
}

func observeCall(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		if result = common.RemoteName(err); result == "" {
			result = "error"
		}
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`dbridge_calls_total{op=%q,result=%q}`, op, result)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`dbridge_call_duration_seconds{op=%q}`, op)).UpdateDuration(start)
}
