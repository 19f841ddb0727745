package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamr-dev/streamr-client-go/internal/correlator"
	"github.com/streamr-dev/streamr-client-go/internal/registry"
	"github.com/streamr-dev/streamr-client-go/internal/reqid"
	"github.com/streamr-dev/streamr-client-go/internal/resend"
	"github.com/streamr-dev/streamr-client-go/internal/testutil"
	"github.com/streamr-dev/streamr-client-go/internal/types"
	"github.com/streamr-dev/streamr-client-go/subscription"
)

var errUnparseable = errors.New("malformed frame")

func newTestDispatcher(t *testing.T) (*Dispatcher, *testutil.FakeConnection, *correlator.Correlator, *registry.Registry, *[]error) {
	t.Helper()

	conn := testutil.NewFakeConnection()
	corr := correlator.New(nil, nil)
	ids := reqid.New()
	rc := resend.New(conn, corr, ids, nil, nil, resend.Config{})
	reg := registry.New(registry.Dependencies{Conn: conn, Corr: corr, IDs: ids, Resend: rc})

	errs := &[]error{}
	d := New(Dependencies{
		Registry: reg,
		Corr:     corr,
		Resend:   rc,
		OnError:  func(err error) { *errs = append(*errs, err) },
	})

	return d, conn, corr, reg, errs
}

func noopHandler() subscription.MessageHandler {
	return subscription.MessageHandlerFunc(func(context.Context, *types.StreamMessage) error { return nil })
}

// subscribeSync drives reg.Subscribe to completion, standing in for the
// Dispatcher reading the matching SubscribeResponse off the wire.
func subscribeSync(t *testing.T, reg *registry.Registry, conn *testutil.FakeConnection, corr *correlator.Correlator, key types.SubscriptionKey, h subscription.MessageHandler) *subscription.Subscription {
	t.Helper()

	before := len(conn.Sent())
	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := reg.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, h)
		require.NoError(t, err)
		done <- sub
	}()

	require.Eventually(t, func() bool { return len(conn.Sent()) > before }, time.Second, time.Millisecond)
	sent := conn.Sent()
	last := sent[len(sent)-1]
	require.True(t, corr.OnInbound(&types.InboundFrame{Kind: types.FrameSubscribeResponse, RequestID: last.RequestID}))

	return <-done
}

// TestDispatch_CorrelatedResponseRoutesToCorrelator verifies that response
// frame kinds reach the RequestCorrelator rather than any other collaborator.
func TestDispatch_CorrelatedResponseRoutesToCorrelator(t *testing.T) {
	d, _, corr, _, _ := newTestDispatcher(t)

	done := make(chan error, 1)
	go func() {
		_, err := corr.AwaitResponse(context.Background(), "probe", "probe-1", []types.FrameKind{types.FrameSubscribeResponse}, 0)
		done <- err
	}()

	require.Eventually(t, func() bool {
		d.Dispatch(context.Background(), &types.InboundFrame{Kind: types.FrameSubscribeResponse, RequestID: "probe-1"})

		select {
		case err := <-done:
			require.NoError(t, err)
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

// TestDispatch_BroadcastFansOutAndVerifiesOnce mirrors invariant 3: a
// BroadcastMessage shared by two co-located Subscriptions reaches both
// handlers through a single Registry fan-out.
func TestDispatch_BroadcastFansOutAndVerifiesOnce(t *testing.T) {
	d, conn, corr, reg, _ := newTestDispatcher(t)
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}

	var calls1, calls2 int
	h1 := subscription.MessageHandlerFunc(func(context.Context, *types.StreamMessage) error { calls1++; return nil })
	h2 := subscription.MessageHandlerFunc(func(context.Context, *types.StreamMessage) error { calls2++; return nil })

	subscribeSync(t, reg, conn, corr, key, h1)
	_, err := reg.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, h2)
	require.NoError(t, err)

	msg := &types.StreamMessage{MessageID: types.MessageID{StreamID: "s1", Partition: 0, Timestamp: 1}}
	d.Dispatch(context.Background(), &types.InboundFrame{Kind: types.FrameBroadcastMessage, StreamMessage: msg})

	require.Equal(t, 1, calls1)
	require.Equal(t, 1, calls2)
}

// TestDispatch_UnicastRoutesToResendEpisode verifies a UnicastMessage whose
// requestId matches a live resend episode is handed to the Coordinator and
// never raises a protocol error.
func TestDispatch_UnicastRoutesToResendEpisode(t *testing.T) {
	d, conn, corr, _, errs := newTestDispatcher(t)
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}

	before := len(conn.Sent())
	epDone := make(chan struct{}, 1)
	go func() {
		ep, err := d.deps.Resend.RequestLast(context.Background(), key, 1, "")
		require.NoError(t, err)
		<-ep.Done
		epDone <- struct{}{}
	}()

	require.Eventually(t, func() bool { return len(conn.Sent()) > before }, time.Second, time.Millisecond)
	reqID := conn.Sent()[len(conn.Sent())-1].RequestID
	require.True(t, corr.OnInbound(&types.InboundFrame{Kind: types.FrameResendResponseResending, RequestID: reqID}))

	msg := &types.StreamMessage{MessageID: types.MessageID{StreamID: "s1", Timestamp: 1}}
	d.Dispatch(context.Background(), &types.InboundFrame{Kind: types.FrameUnicastMessage, RequestID: reqID, StreamMessage: msg})

	require.True(t, corr.OnInbound(&types.InboundFrame{Kind: types.FrameResendResponseResent, RequestID: reqID}))
	<-epDone

	require.Empty(t, *errs, "a unicast matching a live episode must not raise a protocol error")
}

// TestDispatch_UnexpectedUnicastRaisesProtocolError mirrors S6: a
// UnicastMessage whose requestId matches no pending resend raises a
// protocol error and is never delivered to any Subscription.
func TestDispatch_UnexpectedUnicastRaisesProtocolError(t *testing.T) {
	d, _, _, _, errs := newTestDispatcher(t)

	msg := &types.StreamMessage{MessageID: types.MessageID{StreamID: "s1", Timestamp: 1}}
	d.Dispatch(context.Background(), &types.InboundFrame{Kind: types.FrameUnicastMessage, RequestID: "unknown", StreamMessage: msg})

	require.Len(t, *errs, 1)
	require.True(t, types.IsProtocolError((*errs)[0]))
	require.ErrorIs(t, (*errs)[0], types.ErrUnexpectedUnicast)
}

// TestDispatch_DecodeErrorReportsToStreamSubscriptionsAndClient mirrors the
// transport-level decode-error path: every Subscription on the originating
// stream receives an error event, and the error also surfaces client-wide.
func TestDispatch_DecodeErrorReportsToStreamSubscriptionsAndClient(t *testing.T) {
	d, conn, corr, reg, errs := newTestDispatcher(t)
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}

	sub := subscribeSync(t, reg, conn, corr, key, noopHandler())

	d.Dispatch(context.Background(), &types.InboundFrame{
		Kind:      types.FrameDecodeError,
		StreamID:  "s1",
		DecodeErr: errUnparseable,
	})

	// subscribeSync left the subscribed event queued ahead of the error.
	require.Equal(t, subscription.EventSubscribed, (<-sub.Events()).Kind)

	select {
	case ev := <-sub.Events():
		require.Equal(t, subscription.EventError, ev.Kind)
		require.ErrorIs(t, ev.Err, errUnparseable)
	default:
		t.Fatal("expected an error event on the subscription")
	}

	require.Len(t, *errs, 1)
	require.True(t, types.IsKind((*errs)[0], types.KindDecode))
}
