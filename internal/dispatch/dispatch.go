// Package dispatch implements the Dispatcher (§4.7): the top-level router
// that consumes typed inbound frames from the Connection and hands each to
// the RequestCorrelator, the SubscriptionRegistry, or the ResendCoordinator.
// The Dispatcher holds no state of its own and owns nothing — it is purely
// a router, per the design note on ownership in §3.
package dispatch

import (
	"context"
	"fmt"

	"github.com/streamr-dev/streamr-client-go/internal/correlator"
	"github.com/streamr-dev/streamr-client-go/internal/registry"
	"github.com/streamr-dev/streamr-client-go/internal/resend"
	"github.com/streamr-dev/streamr-client-go/internal/types"
	"github.com/streamr-dev/streamr-client-go/internal/verify"
)

// Dependencies bundles the Dispatcher's collaborators.
type Dependencies struct {
	Registry *registry.Registry
	Corr     *correlator.Correlator
	Resend   *resend.Coordinator
	Verifier *verify.Verifier
	Metrics  types.MetricsCollector
	Logger   types.Logger
	// OnError is called for every error the Dispatcher surfaces that isn't
	// attributable to a single Subscription, e.g. an unexpected unicast or
	// a failed verification — mirroring the client-wide error event in §4.7.
	OnError func(error)
}

// Dispatcher implements §4.7.
type Dispatcher struct {
	deps Dependencies
}

// New constructs a Dispatcher.
func New(deps Dependencies) *Dispatcher {
	return &Dispatcher{deps: deps}
}

// Run consumes conn's inbound frame channel until it closes or ctx is done,
// routing each frame per the table in §4.7. It is meant to run in its own
// goroutine for the lifetime of one Connection.
func (d *Dispatcher) Run(ctx context.Context, conn types.Connection) {
	inbound := conn.Inbound()
	for {
		select {
		case frame, ok := <-inbound:
			if !ok {
				return
			}
			d.Dispatch(ctx, frame)
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch routes a single inbound frame. Exported separately from Run so
// tests (and a future replay/debug tool) can feed frames directly.
func (d *Dispatcher) Dispatch(ctx context.Context, frame *types.InboundFrame) {
	switch frame.Kind {
	case types.FrameSubscribeResponse, types.FrameUnsubscribeResponse,
		types.FrameResendResponseResending, types.FrameResendResponseResent, types.FrameResendResponseNoResend,
		types.FrameErrorResponse:
		d.deps.Corr.OnInbound(frame)

	case types.FrameBroadcastMessage:
		d.dispatchBroadcast(ctx, frame)

	case types.FrameUnicastMessage:
		d.dispatchUnicast(ctx, frame)

	case types.FrameDecodeError:
		d.dispatchDecodeError(frame)

	default:
		d.reportError(types.NewError(types.KindDecode, "dispatch", fmt.Errorf("unexpected inbound frame kind %v", frame.Kind)))
	}
}

// dispatchDecodeError reports a transport-level decode error to every
// Subscription on the originating stream, then surfaces it client-wide.
func (d *Dispatcher) dispatchDecodeError(frame *types.InboundFrame) {
	err := types.NewError(types.KindDecode, "dispatch", frame.DecodeErr)

	for _, sub := range d.deps.Registry.GetSubscriptions(frame.StreamID) {
		sub.EmitError(err)
	}

	d.reportError(err)
}

// dispatchBroadcast verifies a BroadcastMessage exactly once — regardless of
// how many Subscriptions share the matching PartitionEntry — then fans it
// out through the Registry (§8 invariant 3).
func (d *Dispatcher) dispatchBroadcast(ctx context.Context, frame *types.InboundFrame) {
	m := frame.StreamMessage
	if m == nil {
		return
	}

	if d.deps.Verifier != nil {
		ok, err := d.deps.Verifier.Verify(m)
		if err != nil {
			d.reportError(types.NewError(types.KindProtocol, "verify", err))
			return
		}
		if !ok {
			d.reportError(types.NewError(types.KindProtocol, "verify", types.ErrSignatureVerificationFailed))
			return
		}
	}

	d.deps.Registry.DeliverBroadcast(ctx, m)
}

// dispatchUnicast routes a UnicastMessage to the resend episode awaiting
// its request-id. If no episode matches, the Dispatcher raises a protocol
// error rather than delivering to any Subscription (§8 S6).
func (d *Dispatcher) dispatchUnicast(ctx context.Context, frame *types.InboundFrame) {
	m := frame.StreamMessage
	if m == nil {
		return
	}

	if d.deps.Verifier != nil {
		if ok, err := d.deps.Verifier.Verify(m); err != nil || !ok {
			d.reportError(types.NewError(types.KindProtocol, "verify", types.ErrSignatureVerificationFailed))
			return
		}
	}

	if d.deps.Resend != nil && d.deps.Resend.HandleUnicast(frame.RequestID, m) {
		return
	}

	d.reportError(types.NewError(types.KindProtocol, "dispatch", types.ErrUnexpectedUnicast))
}

func (d *Dispatcher) reportError(err error) {
	if d.deps.Metrics != nil {
		d.deps.Metrics.IncrementProtocolErrors(err.Error())
	}
	if d.deps.OnError != nil {
		d.deps.OnError(err)
	}
}
