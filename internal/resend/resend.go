// Package resend implements the ResendCoordinator (§4.4): it issues resend
// requests (last-N, from-ref, range), awaits the "resending -> (messages)
// -> resent|no-resend" episode, and drives gap-fill episodes on behalf of
// the OrderingTracker.
package resend

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/streamr-dev/streamr-client-go/internal/backoff"
	"github.com/streamr-dev/streamr-client-go/internal/correlator"
	"github.com/streamr-dev/streamr-client-go/internal/reqid"
	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// Terminal classifies how an episode ended.
type Terminal int

const (
	TerminalResent Terminal = iota
	TerminalNoResend
	TerminalError
)

// Episode is a live resend or gap-fill in progress. Messages arrives in
// wire order; Done closes exactly once, after which Err (if any) and
// Terminal are final.
type Episode struct {
	RequestID string
	Messages  chan *types.StreamMessage
	Done      chan struct{}
	Terminal  Terminal
	Err       error
}

// Coordinator implements §4.4 ResendCoordinator.
type Coordinator struct {
	conn       types.Connection
	corr       *correlator.Correlator
	ids        *reqid.Generator
	clk        clock.Clock
	metrics    types.MetricsCollector
	retryAfter time.Duration
	retryOnce  bool

	episodes *xsync.Map[string, *Episode]
}

// Config configures the Coordinator's empty-resend retry policy (§6
// retryResendAfter).
type Config struct {
	RetryEmptyLastOnce bool
	RetryAfter         time.Duration
	RequestTimeout     time.Duration
}

// New constructs a Coordinator.
func New(conn types.Connection, corr *correlator.Correlator, ids *reqid.Generator, clk clock.Clock, metrics types.MetricsCollector, cfg Config) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 2 * time.Second
	}

	return &Coordinator{
		conn:       conn,
		corr:       corr,
		ids:        ids,
		clk:        clk,
		metrics:    metrics,
		retryAfter: cfg.RetryAfter,
		retryOnce:  cfg.RetryEmptyLastOnce,
		episodes:   xsync.NewMap[string, *Episode](),
	}
}

// HandleUnicast feeds a delivered UnicastMessage into the episode it
// belongs to. Returns false if no live episode matches requestID (the
// caller should treat this as an unexpected unicast, §8 S6).
func (c *Coordinator) HandleUnicast(requestID string, m *types.StreamMessage) bool {
	ep, ok := c.episodes.Load(requestID)
	if !ok {
		return false
	}

	select {
	case ep.Messages <- m:
	case <-ep.Done:
	}

	return true
}

func (c *Coordinator) newEpisode(reqID string) *Episode {
	ep := &Episode{RequestID: reqID, Messages: make(chan *types.StreamMessage, 64), Done: make(chan struct{})}
	c.episodes.Store(reqID, ep)

	return ep
}

func (c *Coordinator) finish(ep *Episode, terminal Terminal, err error) {
	ep.Terminal, ep.Err = terminal, err
	c.episodes.Delete(ep.RequestID)
	close(ep.Done)
}

// RequestLast issues a ResendLastRequest for numberLast messages on key,
// applying the empty-resend retry policy: if the first attempt returns
// NoResend and no messages were seen, and retry is enabled, it retries
// once after retryAfter. Only the outcome of the retry (if it happens) is
// user-visible; the intermediate NoResend is silent, since an empty resend
// is usually a broker race rather than a real absence of history.
func (c *Coordinator) RequestLast(ctx context.Context, key types.SubscriptionKey, numberLast int, sessionToken string) (*Episode, error) {
	ep, err := c.requestLastOnce(ctx, key, numberLast, sessionToken)
	if err != nil {
		return nil, err
	}

	if ep.Terminal != TerminalNoResend || !c.retryOnce {
		return ep, nil
	}

	select {
	case <-c.clk.After(c.retryAfter):
	case <-ctx.Done():
		return ep, nil
	}

	retryEp, err := c.requestLastOnce(ctx, key, numberLast, sessionToken)
	if err != nil {
		return ep, nil //nolint:nilerr // retry failures are silent per design; original NoResend stands
	}

	return retryEp, nil
}

func (c *Coordinator) requestLastOnce(ctx context.Context, key types.SubscriptionKey, numberLast int, sessionToken string) (*Episode, error) {
	reqID := c.ids.Next()
	ep := c.newEpisode(reqID)

	frame := &types.OutboundFrame{
		Kind:         types.OutResendLastRequest,
		RequestID:    reqID,
		StreamID:     key.StreamID,
		Partition:    key.Partition,
		NumberLast:   numberLast,
		SessionToken: sessionToken,
	}

	return c.runEpisode(ctx, ep, frame, "resend_last")
}

// RequestFrom issues a ResendFromRequest.
func (c *Coordinator) RequestFrom(ctx context.Context, key types.SubscriptionKey, from types.MessageRef, publisherID, chainID, sessionToken string) (*Episode, error) {
	reqID := c.ids.Next()
	ep := c.newEpisode(reqID)

	frame := &types.OutboundFrame{
		Kind:         types.OutResendFromRequest,
		RequestID:    reqID,
		StreamID:     key.StreamID,
		Partition:    key.Partition,
		FromMsgRef:   from,
		PublisherID:  publisherID,
		MsgChainID:   chainID,
		SessionToken: sessionToken,
	}

	return c.runEpisode(ctx, ep, frame, "resend_from")
}

// RequestRange issues a ResendRangeRequest, used both for user-driven
// range resends and, via FillGap, for gap repair.
func (c *Coordinator) RequestRange(ctx context.Context, key types.SubscriptionKey, from, to types.MessageRef, publisherID, chainID, sessionToken string) (*Episode, error) {
	reqID := c.ids.Next()
	ep := c.newEpisode(reqID)

	frame := &types.OutboundFrame{
		Kind:         types.OutResendRangeRequest,
		RequestID:    reqID,
		StreamID:     key.StreamID,
		Partition:    key.Partition,
		FromMsgRef:   from,
		ToMsgRef:     to,
		PublisherID:  publisherID,
		MsgChainID:   chainID,
		SessionToken: sessionToken,
	}

	return c.runEpisode(ctx, ep, frame, "resend_range")
}

// FillGap issues a ResendRange scoped to the gap; arriving messages are
// meant to be fed to the OrderingTracker as ObserveFilled, not re-run
// through gap detection, per §4.4.
func (c *Coordinator) FillGap(ctx context.Context, key types.SubscriptionKey, chain types.ChainKey, from, to types.MessageRef, sessionToken string) (*Episode, error) {
	return c.RequestRange(ctx, key, from, to, chain.PublisherID, chain.MsgChainID, sessionToken)
}

func (c *Coordinator) runEpisode(ctx context.Context, ep *Episode, frame *types.OutboundFrame, op string) (*Episode, error) {
	if c.metrics != nil {
		c.metrics.IncrementResendRequests(kindLabel(frame.Kind))
	}

	if err := c.conn.Send(ctx, frame); err != nil {
		c.episodes.Delete(ep.RequestID)
		return nil, types.NewError(types.KindTransport, op, err)
	}

	initial, err := c.corr.AwaitResponse(ctx, op, ep.RequestID, []types.FrameKind{
		types.FrameResendResponseResending,
		types.FrameResendResponseNoResend,
	}, 0)
	if err != nil {
		c.episodes.Delete(ep.RequestID)
		return nil, err
	}

	if initial.Kind == types.FrameResendResponseNoResend {
		c.finish(ep, TerminalNoResend, nil)
		return ep, nil
	}

	// Resending: await the terminal frame on a second correlated wait
	// while the episode's Messages channel is fed independently by
	// HandleUnicast (called from the dispatcher goroutine).
	go func() {
		terminal, err := c.corr.AwaitResponse(ctx, op, ep.RequestID, []types.FrameKind{types.FrameResendResponseResent}, 0)
		if err != nil {
			c.finish(ep, TerminalError, err)
			return
		}
		_ = terminal
		c.finish(ep, TerminalResent, nil)
	}()

	return ep, nil
}

// Abort cancels a live episode with types.ErrAborted.
func (c *Coordinator) Abort(requestID string) {
	if ep, ok := c.episodes.LoadAndDelete(requestID); ok {
		c.corr.Abort(requestID)
		select {
		case <-ep.Done:
		default:
			ep.Terminal, ep.Err = TerminalError, types.NewError(types.KindAborted, "resend", types.ErrAborted)
			close(ep.Done)
		}
	}
}

func kindLabel(k types.OutboundKind) string {
	switch k {
	case types.OutResendLastRequest:
		return "last"
	case types.OutResendFromRequest:
		return "from"
	case types.OutResendRangeRequest:
		return "range"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// backoffRetryDelay computes a resend-retry delay with the decorrelated-
// jitter helper. Nothing in the coordinator calls it: a resend request
// that fails with a transport error is returned to the caller, not retried.
func backoffRetryDelay(prev time.Duration) time.Duration {
	return backoff.Jitter(prev, 200*time.Millisecond, 1.6, 5*time.Second, nil)
}
