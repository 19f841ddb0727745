// Package correlator implements the RequestCorrelator: it maps opaque
// request identifiers to pending waiters and resolves each waiter on
// receipt of the matching response or an error response, mirroring the
// channel-based wait/resolve idiom arloliu/parti uses for its
// Manager.WaitState (a channel handed back to the caller, settled exactly
// once by a background goroutine).
package correlator

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// Response is the settled value of an await_response call: either the
// terminal inbound frame, or an error.
type Response struct {
	Frame *types.InboundFrame
	Err   error
}

type waiter struct {
	expected map[types.FrameKind]struct{}
	result   chan Response
	timer    *clock.Timer
}

// Correlator implements §4.1 RequestCorrelator.
type Correlator struct {
	clock    clock.Clock
	metrics  types.MetricsCollector
	waiters  *xsync.Map[string, *waiter]
}

// New constructs a Correlator. clk defaults to the real clock if nil.
func New(clk clock.Clock, metrics types.MetricsCollector) *Correlator {
	if clk == nil {
		clk = clock.New()
	}

	return &Correlator{
		clock:   clk,
		metrics: metrics,
		waiters: xsync.NewMap[string, *waiter](),
	}
}

// AwaitResponse registers a waiter keyed by reqID, resolved when the next
// inbound frame of any kind in expected with a matching RequestID arrives,
// or rejected on a matching ErrorResponse with a RequestFailed-kind error
// wrapping the response's error code and message. If timeout is non-zero and no reply arrives within it, the
// waiter rejects with types.ErrTimeout.
func (c *Correlator) AwaitResponse(ctx context.Context, op, reqID string, expected []types.FrameKind, timeout time.Duration) (*types.InboundFrame, error) {
	set := make(map[types.FrameKind]struct{}, len(expected))
	for _, k := range expected {
		set[k] = struct{}{}
	}

	w := &waiter{expected: set, result: make(chan Response, 1)}
	c.waiters.Store(reqID, w)

	if timeout > 0 {
		w.timer = c.clock.Timer(timeout)
	}

	defer func() {
		c.waiters.Delete(reqID)
		if w.timer != nil {
			w.timer.Stop()
		}
	}()

	var timeoutCh <-chan time.Time
	if w.timer != nil {
		timeoutCh = w.timer.C
	}

	select {
	case resp := <-w.result:
		return resp.Frame, resp.Err
	case <-timeoutCh:
		if c.metrics != nil {
			c.metrics.IncrementRequestTimeouts(op)
		}

		return nil, types.NewError(types.KindRequestFailed, op, types.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnInbound implements on_inbound: if frame.RequestID matches a waiter and
// frame.Kind is among its expected kinds, the waiter resolves and is
// removed. If frame is an ErrorResponse with a matching RequestID, the
// waiter rejects. Returns true if the frame was consumed by a waiter.
func (c *Correlator) OnInbound(frame *types.InboundFrame) bool {
	w, ok := c.waiters.Load(frame.RequestID)
	if !ok {
		return false
	}

	if frame.Kind == types.FrameErrorResponse {
		c.waiters.Delete(frame.RequestID)
		w.result <- Response{Err: types.NewError(types.KindRequestFailed, "", protocolError(frame))}

		return true
	}

	if _, expected := w.expected[frame.Kind]; !expected {
		return false
	}

	// Delete before sending: a waiter resolves exactly once, and deleting
	// first means this call never blocks on a full buffered channel even
	// if the caller is slow to receive.
	c.waiters.Delete(frame.RequestID)
	w.result <- Response{Frame: frame}

	return true
}

// Disconnect fails every outstanding waiter with types.ErrDisconnected, per
// §4.1 Failure: "if the connection disconnects while a waiter is pending,
// all waiters fail with Disconnected."
func (c *Correlator) Disconnect() {
	c.waiters.Range(func(reqID string, w *waiter) bool {
		select {
		case w.result <- Response{Err: types.NewError(types.KindTransport, "", types.ErrDisconnected)}:
		default:
		}

		return true
	})
}

// Abort fails the waiter for reqID, if any, with types.ErrAborted.
func (c *Correlator) Abort(reqID string) {
	if w, ok := c.waiters.LoadAndDelete(reqID); ok {
		select {
		case w.result <- Response{Err: types.NewError(types.KindAborted, "", types.ErrAborted)}:
		default:
		}
	}
}

func protocolError(frame *types.InboundFrame) error {
	return &wireError{code: frame.ErrorCode, message: frame.ErrorMessage}
}

type wireError struct {
	code    string
	message string
}

func (e *wireError) Error() string {
	if e.code != "" {
		return e.code + ": " + e.message
	}

	return e.message
}
