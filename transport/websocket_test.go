package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/streamr-dev/streamr-client-go/internal/types"
	"github.com/streamr-dev/streamr-client-go/wire"
)

// echoBroker upgrades every request to a WebSocket and replies to a
// SubscribeRequest with a SubscribeResponse carrying the same requestId,
// standing in for a real broker the way an httptest server stands in for
// a production HTTP service.
func echoBroker(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			// wire.Decode only accepts inbound frame types, so read the
			// request's requestId straight from the JSON envelope.
			var req struct {
				RequestID string `json:"requestId"`
			}
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}

			reply, err := wire.Encode(&types.OutboundFrame{Kind: types.OutSubscribeRequest, RequestID: req.RequestID})
			require.NoError(t, err)
			// Encode always writes an outbound-shaped envelope; rewrite the
			// type field to the matching response the way the real broker
			// would, since Decode expects an inbound-shaped envelope.
			reply = []byte(strings.Replace(string(reply), `"SubscribeRequest"`, `"SubscribeResponse"`, 1))

			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketConnection_ConnectSendReceive(t *testing.T) {
	srv := echoBroker(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn := NewWebSocket(WebSocketConfig{URL: wsURL})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Connect(ctx))
	require.Equal(t, types.ConnConnected, conn.State())
	defer conn.Disconnect(context.Background())

	require.NoError(t, conn.Send(ctx, &types.OutboundFrame{
		Kind: types.OutSubscribeRequest, RequestID: "req-1", StreamID: "s1",
	}))

	select {
	case frame := <-conn.Inbound():
		require.Equal(t, types.FrameSubscribeResponse, frame.Kind)
		require.Equal(t, "req-1", frame.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}

func TestWebSocketConnection_DisconnectClosesInbound(t *testing.T) {
	srv := echoBroker(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn := NewWebSocket(WebSocketConfig{URL: wsURL})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))

	require.NoError(t, conn.Disconnect(context.Background()))

	select {
	case _, ok := <-conn.Inbound():
		require.False(t, ok, "inbound channel must close on disconnect")
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel did not close")
	}
}

func TestWebSocketConnection_SendBeforeConnectFails(t *testing.T) {
	conn := NewWebSocket(WebSocketConfig{URL: "ws://unused"})
	err := conn.Send(context.Background(), &types.OutboundFrame{Kind: types.OutSubscribeRequest})
	require.Error(t, err)
	require.True(t, types.IsTransportError(err))
}
