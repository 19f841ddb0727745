package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

func TestAwaitResponse_ResolvesOnMatchingFrame(t *testing.T) {
	c := New(nil, nil)

	done := make(chan struct{})
	var frame *types.InboundFrame
	var err error

	go func() {
		frame, err = c.AwaitResponse(context.Background(), "subscribe", "r1", []types.FrameKind{types.FrameSubscribeResponse}, 0)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return c.OnInbound(&types.InboundFrame{Kind: types.FrameSubscribeResponse, RequestID: "r1"})
	}, time.Second, time.Millisecond)

	<-done
	require.NoError(t, err)
	require.Equal(t, types.FrameSubscribeResponse, frame.Kind)
}

func TestAwaitResponse_RejectsOnErrorResponse(t *testing.T) {
	c := New(nil, nil)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = c.AwaitResponse(context.Background(), "subscribe", "r2", []types.FrameKind{types.FrameSubscribeResponse}, 0)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return c.OnInbound(&types.InboundFrame{Kind: types.FrameErrorResponse, RequestID: "r2", ErrorCode: "RESOURCE_NOT_FOUND"})
	}, time.Second, time.Millisecond)

	<-done
	require.Error(t, err)
	require.True(t, types.IsKind(err, types.KindRequestFailed))
}

func TestAwaitResponse_TimesOut(t *testing.T) {
	mc := clock.NewMock()
	c := New(mc, nil)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = c.AwaitResponse(context.Background(), "subscribe", "r3", []types.FrameKind{types.FrameSubscribeResponse}, time.Second)
		close(done)
	}()

	// Keep advancing the mock clock until the waiter's timer, registered
	// asynchronously inside AwaitResponse, has fired.
	require.Eventually(t, func() bool {
		mc.Add(2 * time.Second)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	<-done
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrTimeout)
}

func TestDisconnect_FailsAllWaiters(t *testing.T) {
	c := New(nil, nil)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = c.AwaitResponse(context.Background(), "subscribe", "r4", []types.FrameKind{types.FrameSubscribeResponse}, 0)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := c.waiters.Load("r4")
		return ok
	}, time.Second, time.Millisecond)

	c.Disconnect()

	<-done
	require.ErrorIs(t, err, types.ErrDisconnected)
}

func TestOnInbound_IgnoresUnknownRequestID(t *testing.T) {
	c := New(nil, nil)
	consumed := c.OnInbound(&types.InboundFrame{Kind: types.FrameUnicastMessage, RequestID: "unknown"})
	require.False(t, consumed)
}
