package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/streamr-dev/streamr-client-go/internal/types"
	"github.com/streamr-dev/streamr-client-go/wire"
)

// NATSConfig configures a NATSConnection.
type NATSConfig struct {
	// URL is the NATS server URL, e.g. "nats://localhost:4222".
	URL string

	// RequestSubject is the subject outbound frames are published to; a
	// NATS-to-broker bridge consumes it on the other side.
	RequestSubject string

	// InboxSubject is the subject this client subscribes to for inbound
	// frames (responses and data messages addressed to it).
	InboxSubject string

	// Options carries additional nats.Option values (auth, TLS, ...).
	Options []nats.Option
}

// NATSConnection implements types.Connection over core NATS publish/
// subscribe, for deployments that front the broker with a NATS bridge
// instead of speaking WebSocket directly.
type NATSConnection struct {
	cfg NATSConfig

	nc  *nats.Conn
	sub *nats.Subscription

	state   atomic.Int32
	inbound chan *types.InboundFrame
	events  chan types.ConnEvent

	closeOnce sync.Once
}

var _ types.Connection = (*NATSConnection)(nil)

// NewNATS constructs a NATSConnection. Connect must be called before Send
// or Inbound produce anything.
func NewNATS(cfg NATSConfig) *NATSConnection {
	return &NATSConnection{
		cfg:     cfg,
		inbound: make(chan *types.InboundFrame, 256),
		events:  make(chan types.ConnEvent, 16),
	}
}

// Connect implements types.Connection.
func (c *NATSConnection) Connect(_ context.Context) error {
	if c.nc != nil {
		return nil
	}

	c.state.Store(int32(types.ConnConnecting))

	opts := append([]nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.state.Store(int32(types.ConnDisconnected))
			c.emit(types.ConnEvent{Kind: types.ConnEventDisconnected, Err: err})
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.state.Store(int32(types.ConnConnected))
			c.emit(types.ConnEvent{Kind: types.ConnEventConnected})
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.emit(types.ConnEvent{Kind: types.ConnEventError, Err: err})
		}),
		// ClosedHandler fires once the connection is permanently done,
		// including after a graceful Drain — the only point at which no
		// more messages can arrive on the subscription callback, so it is
		// the only safe place to close inbound.
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.closeOnce.Do(func() { close(c.inbound) })
		}),
	}, c.cfg.Options...)

	nc, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		c.state.Store(int32(types.ConnDisconnected))

		return fmt.Errorf("transport: nats connect %s: %w", c.cfg.URL, err)
	}

	sub, err := nc.Subscribe(c.cfg.InboxSubject, func(msg *nats.Msg) {
		c.inbound <- wire.Decode(msg.Data)
	})
	if err != nil {
		nc.Close()
		c.state.Store(int32(types.ConnDisconnected))

		return fmt.Errorf("transport: nats subscribe %s: %w", c.cfg.InboxSubject, err)
	}

	c.nc = nc
	c.sub = sub
	c.state.Store(int32(types.ConnConnected))
	c.emit(types.ConnEvent{Kind: types.ConnEventConnected})

	return nil
}

// Disconnect implements types.Connection.
func (c *NATSConnection) Disconnect(_ context.Context) error {
	if c.nc == nil {
		return nil
	}

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}

	if err := c.nc.Drain(); err != nil {
		c.nc.Close()

		return fmt.Errorf("transport: nats drain: %w", err)
	}

	c.nc = nil
	c.state.Store(int32(types.ConnDisconnected))

	return nil
}

// Send implements types.Connection.
func (c *NATSConnection) Send(_ context.Context, frame *types.OutboundFrame) error {
	raw, err := wire.Encode(frame)
	if err != nil {
		return types.NewError(types.KindDecode, "transport.send", err)
	}

	if c.nc == nil {
		return types.NewError(types.KindTransport, "transport.send", types.ErrDisconnected)
	}

	if err := c.nc.Publish(c.cfg.RequestSubject, raw); err != nil {
		return types.NewError(types.KindTransport, "transport.send", err)
	}

	return nil
}

// Inbound implements types.Connection.
func (c *NATSConnection) Inbound() <-chan *types.InboundFrame { return c.inbound }

// Events implements types.Connection.
func (c *NATSConnection) Events() <-chan types.ConnEvent { return c.events }

// State implements types.Connection.
func (c *NATSConnection) State() types.ConnState { return types.ConnState(c.state.Load()) }

func (c *NATSConnection) emit(ev types.ConnEvent) {
	select {
	case c.events <- ev:
	default:
	}
}
