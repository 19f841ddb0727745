package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamr-dev/streamr-client-go/internal/correlator"
	"github.com/streamr-dev/streamr-client-go/internal/reqid"
	"github.com/streamr-dev/streamr-client-go/internal/resend"
	"github.com/streamr-dev/streamr-client-go/internal/testutil"
	"github.com/streamr-dev/streamr-client-go/internal/types"
	"github.com/streamr-dev/streamr-client-go/subscription"
)

func newTestRegistry(t *testing.T) (*Registry, *testutil.FakeConnection, *correlator.Correlator) {
	t.Helper()

	conn := testutil.NewFakeConnection()
	corr := correlator.New(nil, nil)
	r := New(Dependencies{Conn: conn, Corr: corr, IDs: reqid.New()})

	return r, conn, corr
}

func newTestRegistryWithResend(t *testing.T) (*Registry, *testutil.FakeConnection, *correlator.Correlator) {
	t.Helper()

	conn := testutil.NewFakeConnection()
	corr := correlator.New(nil, nil)
	ids := reqid.New()
	rc := resend.New(conn, corr, ids, nil, nil, resend.Config{})
	r := New(Dependencies{Conn: conn, Corr: corr, IDs: ids, Resend: rc})

	return r, conn, corr
}

// respondToLastSubscribe drains the most recent SubscribeRequest sent on conn
// and feeds the matching SubscribeResponse back through corr, standing in
// for the Dispatcher that isn't under test here.
func respondToLastSubscribe(t *testing.T, conn *testutil.FakeConnection, corr *correlator.Correlator) {
	t.Helper()

	sent := conn.Sent()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	require.True(t, corr.OnInbound(&types.InboundFrame{Kind: types.FrameSubscribeResponse, RequestID: last.RequestID}))
}

func noopHandler() subscription.MessageHandler {
	return subscription.MessageHandlerFunc(func(context.Context, *types.StreamMessage) error { return nil })
}

func TestSubscribe_FirstMemberIssuesWireSubscribe(t *testing.T) {
	r, conn, corr := newTestRegistry(t)

	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{Key: types.SubscriptionKey{StreamID: "s1", Partition: 0}, Live: true}, noopHandler())
		require.NoError(t, err)
		done <- sub
	}()

	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)

	sub := <-done
	require.Equal(t, types.SubSubscribed, sub.State())
	require.Len(t, conn.Sent(), 1)
}

func TestSubscribe_SecondMemberCoalescesWithoutWireRequest(t *testing.T) {
	r, conn, corr := newTestRegistry(t)
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}

	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, noopHandler())
		require.NoError(t, err)
		done <- sub
	}()
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)
	<-done

	sub2, err := r.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, noopHandler())
	require.NoError(t, err)
	require.Equal(t, types.SubSubscribed, sub2.State())
	require.Len(t, conn.Sent(), 1, "second member must not trigger a second wire subscribe")

	entry, ok := r.EntryFor(key)
	require.True(t, ok)
	require.Len(t, entry.snapshotMembers(), 2)
}

func TestUnsubscribe_LastMemberIssuesWireUnsubscribe(t *testing.T) {
	r, conn, corr := newTestRegistry(t)
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}

	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, noopHandler())
		require.NoError(t, err)
		done <- sub
	}()
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)
	sub := <-done

	unsubDone := make(chan error, 1)
	go func() { unsubDone <- r.Unsubscribe(context.Background(), sub) }()

	require.Eventually(t, func() bool { return len(conn.Sent()) == 2 }, time.Second, time.Millisecond)
	sentUnsub := conn.Sent()[1]
	require.Equal(t, types.OutUnsubscribeRequest, sentUnsub.Kind)
	require.True(t, corr.OnInbound(&types.InboundFrame{Kind: types.FrameUnsubscribeResponse, RequestID: sentUnsub.RequestID}))

	require.NoError(t, <-unsubDone)
	require.Equal(t, types.SubUnsubscribed, sub.State())
	_, ok := r.EntryFor(key)
	require.False(t, ok, "entry is removed once its last member unsubscribes")
}

func TestUnsubscribe_LastMemberWithAutoDisconnectInvokesDisconnect(t *testing.T) {
	conn := testutil.NewFakeConnection()
	corr := correlator.New(nil, nil)

	var disconnects int
	disconnect := func(context.Context) error {
		disconnects++
		return nil
	}

	r := New(Dependencies{
		Conn:           conn,
		Corr:           corr,
		IDs:            reqid.New(),
		AutoDisconnect: true,
		Disconnect:     disconnect,
	})
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}

	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, noopHandler())
		require.NoError(t, err)
		done <- sub
	}()
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)
	sub := <-done

	unsubDone := make(chan error, 1)
	go func() { unsubDone <- r.Unsubscribe(context.Background(), sub) }()

	require.Eventually(t, func() bool { return len(conn.Sent()) == 2 }, time.Second, time.Millisecond)
	sentUnsub := conn.Sent()[1]
	require.True(t, corr.OnInbound(&types.InboundFrame{Kind: types.FrameUnsubscribeResponse, RequestID: sentUnsub.RequestID}))

	require.NoError(t, <-unsubDone)
	require.Equal(t, 1, disconnects, "last unsubscribe with no subscriptions left must trigger auto-disconnect")
}

func TestUnsubscribe_WithRemainingSubscriptionsSkipsAutoDisconnect(t *testing.T) {
	conn := testutil.NewFakeConnection()
	corr := correlator.New(nil, nil)

	var disconnects int
	disconnect := func(context.Context) error {
		disconnects++
		return nil
	}

	r := New(Dependencies{
		Conn:           conn,
		Corr:           corr,
		IDs:            reqid.New(),
		AutoDisconnect: true,
		Disconnect:     disconnect,
	})
	key1 := types.SubscriptionKey{StreamID: "s1", Partition: 0}
	key2 := types.SubscriptionKey{StreamID: "s2", Partition: 0}

	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{Key: key1, Live: true}, noopHandler())
		require.NoError(t, err)
		done <- sub
	}()
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)
	sub1 := <-done

	done2 := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{Key: key2, Live: true}, noopHandler())
		require.NoError(t, err)
		done2 <- sub
	}()
	require.Eventually(t, func() bool { return len(conn.Sent()) == 2 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)
	<-done2

	unsubDone := make(chan error, 1)
	go func() { unsubDone <- r.Unsubscribe(context.Background(), sub1) }()

	require.Eventually(t, func() bool { return len(conn.Sent()) == 3 }, time.Second, time.Millisecond)
	sentUnsub := conn.Sent()[2]
	require.True(t, corr.OnInbound(&types.InboundFrame{Kind: types.FrameUnsubscribeResponse, RequestID: sentUnsub.RequestID}))

	require.NoError(t, <-unsubDone)
	require.Equal(t, 0, disconnects, "auto-disconnect must not fire while another subscription remains")
}

func TestOnDisconnect_ThenOnReconnect_ReplaysPendingSubscribes(t *testing.T) {
	r, conn, corr := newTestRegistry(t)
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}

	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, noopHandler())
		require.NoError(t, err)
		done <- sub
	}()
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)
	sub := <-done

	r.OnDisconnect()
	require.Equal(t, types.SubUnsubscribed, sub.State())
	entry, ok := r.EntryFor(key)
	require.True(t, ok, "entry survives a disconnect, pending resubscribe")
	require.False(t, entry.BrokerSubscribed)

	reconnectDone := make(chan []error, 1)
	go func() { reconnectDone <- r.OnReconnect(context.Background()) }()

	require.Eventually(t, func() bool { return len(conn.Sent()) == 2 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)

	errs := <-reconnectDone
	require.Empty(t, errs)
}

func TestDeliverBroadcast_FansOutToAllMembers(t *testing.T) {
	r, conn, corr := newTestRegistry(t)
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}

	var calls1, calls2 int
	h1 := subscription.MessageHandlerFunc(func(context.Context, *types.StreamMessage) error { calls1++; return nil })
	h2 := subscription.MessageHandlerFunc(func(context.Context, *types.StreamMessage) error { calls2++; return nil })

	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, h1)
		require.NoError(t, err)
		done <- sub
	}()
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)
	<-done

	_, err := r.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, h2)
	require.NoError(t, err)

	msg := &types.StreamMessage{MessageID: types.MessageID{StreamID: "s1", Partition: 0, Timestamp: 1}}
	delivered := r.DeliverBroadcast(context.Background(), msg)

	require.Len(t, delivered, 2)
	require.Equal(t, 1, calls1)
	require.Equal(t, 1, calls2)
}

func TestSubscribe_RejectsMissingStreamID(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Subscribe(context.Background(), subscription.Options{}, noopHandler())
	require.Error(t, err)
	require.True(t, types.IsConfigurationError(err))
}

// TestSubscribe_ResendLastWithLiveRace mirrors S2: subscribe with
// resend.last races a live message against the resend episode; once both
// terminate, the subscription returns to Subscribed with the live message
// flushed after the resent one.
func TestSubscribe_ResendLastWithLiveRace(t *testing.T) {
	r, conn, corr := newTestRegistry(t)
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}
	ids := reqid.New()
	rc := resend.New(conn, corr, ids, nil, nil, resend.Config{})
	r.deps.Resend = rc

	var delivered []types.MessageRef
	h := subscription.MessageHandlerFunc(func(_ context.Context, m *types.StreamMessage) error {
		delivered = append(delivered, m.MessageID.Ref())
		return nil
	})

	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{
			Key: key, Live: true, HasResend: true,
			Resend: types.ResendOption{Kind: types.ResendLast, NumberLast: 1},
		}, h)
		require.NoError(t, err)
		done <- sub
	}()

	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)

	require.Eventually(t, func() bool { return len(conn.Sent()) == 2 }, time.Second, time.Millisecond)
	resendReqID := conn.Sent()[1].RequestID
	require.Equal(t, types.OutResendLastRequest, conn.Sent()[1].Kind)
	require.True(t, corr.OnInbound(&types.InboundFrame{Kind: types.FrameResendResponseResending, RequestID: resendReqID}))

	sub := <-done
	require.Eventually(t, func() bool { return sub.State() == types.SubResending }, time.Second, time.Millisecond)

	live := &types.StreamMessage{MessageID: types.MessageID{StreamID: "s1", Timestamp: 5}}
	sub.Deliver(context.Background(), live)

	resent := &types.StreamMessage{MessageID: types.MessageID{StreamID: "s1", Timestamp: 1}}
	require.True(t, rc.HandleUnicast(resendReqID, resent))
	require.True(t, corr.OnInbound(&types.InboundFrame{Kind: types.FrameResendResponseResent, RequestID: resendReqID}))

	require.Eventually(t, func() bool { return sub.State() == types.SubSubscribed }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(delivered) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []types.MessageRef{{Timestamp: 1}, {Timestamp: 5}}, delivered, "resent batch flushes before the buffered live message")
}

// TestDeliverBroadcast_GapTriggersFillGap mirrors S4: a gap detected on a
// Subscribed member issues exactly one ResendRangeRequest, and a second
// overlapping gap delivered while the fill is in flight does not issue a
// second request.
func TestDeliverBroadcast_GapTriggersFillGap(t *testing.T) {
	r, conn, corr := newTestRegistryWithResend(t)
	key := types.SubscriptionKey{StreamID: "s1", Partition: 0}

	done := make(chan *subscription.Subscription, 1)
	go func() {
		sub, err := r.Subscribe(context.Background(), subscription.Options{Key: key, Live: true}, noopHandler())
		require.NoError(t, err)
		done <- sub
	}()
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, time.Millisecond)
	respondToLastSubscribe(t, conn, corr)
	<-done

	first := &types.StreamMessage{MessageID: types.MessageID{StreamID: "s1", Partition: 0, Timestamp: 1}}
	r.DeliverBroadcast(context.Background(), first)

	three := types.MessageRef{Timestamp: 3}
	second := &types.StreamMessage{MessageID: types.MessageID{StreamID: "s1", Partition: 0, Timestamp: 5}, PrevMsgRef: &three}
	r.DeliverBroadcast(context.Background(), second)

	require.Eventually(t, func() bool { return len(conn.Sent()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, types.OutResendRangeRequest, conn.Sent()[1].Kind)
	require.Equal(t, types.MessageRef{Timestamp: 1, SequenceNumber: 1}, conn.Sent()[1].FromMsgRef)
	require.Equal(t, types.MessageRef{Timestamp: 3, SequenceNumber: 0}, conn.Sent()[1].ToMsgRef)

	eight := types.MessageRef{Timestamp: 7}
	overlapping := &types.StreamMessage{MessageID: types.MessageID{StreamID: "s1", Partition: 0, Timestamp: 9}, PrevMsgRef: &eight}
	r.DeliverBroadcast(context.Background(), overlapping)

	require.Len(t, conn.Sent(), 2, "overlapping gap while a fill is in flight must not issue a second request")
}
