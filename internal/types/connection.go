package types

import "context"

// ConnState is the observable state of the underlying Connection.
type ConnState int32

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Connection is the small transport interface the core consumes: send a
// typed request, receive typed inbound frames, observe connected/
// disconnected/error events. Concrete implementations (websocket, NATS)
// live in the transport package; the core never depends on them directly.
type Connection interface {
	// Connect establishes the underlying channel. Connect must be safe to
	// call again after Disconnect.
	Connect(ctx context.Context) error

	// Disconnect tears down the underlying channel. Idempotent.
	Disconnect(ctx context.Context) error

	// Send transmits an outbound frame. Send must serialize concurrent
	// callers so that frames from one sender preserve order on the wire.
	Send(ctx context.Context, frame *OutboundFrame) error

	// Inbound returns the channel of decoded inbound frames. The channel
	// is closed when the connection is torn down.
	Inbound() <-chan *InboundFrame

	// Events returns the channel of connection lifecycle events.
	Events() <-chan ConnEvent

	State() ConnState
}

// ConnEventKind enumerates Connection lifecycle events.
type ConnEventKind int

const (
	ConnEventConnected ConnEventKind = iota
	ConnEventDisconnected
	ConnEventError
)

// ConnEvent is delivered on Connection.Events().
type ConnEvent struct {
	Kind ConnEventKind
	Err  error
}

// TokenProvider supplies the bearer session token attached to every
// authenticated wire request. Implementations must deduplicate concurrent
// fetches so that N simultaneous callers trigger exactly one fetch.
type TokenProvider interface {
	SessionToken(ctx context.Context) (string, error)
}
