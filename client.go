package streamr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/streamr-dev/streamr-client-go/auth"
	"github.com/streamr-dev/streamr-client-go/crypto"
	"github.com/streamr-dev/streamr-client-go/internal/correlator"
	"github.com/streamr-dev/streamr-client-go/internal/dispatch"
	"github.com/streamr-dev/streamr-client-go/internal/logger"
	"github.com/streamr-dev/streamr-client-go/internal/metrics"
	"github.com/streamr-dev/streamr-client-go/internal/publish"
	"github.com/streamr-dev/streamr-client-go/internal/registry"
	"github.com/streamr-dev/streamr-client-go/internal/reqid"
	"github.com/streamr-dev/streamr-client-go/internal/resend"
	"github.com/streamr-dev/streamr-client-go/internal/types"
	"github.com/streamr-dev/streamr-client-go/internal/verify"
	"github.com/streamr-dev/streamr-client-go/transport"
)

func defaultLogger() Logger           { return logger.NewNop() }
func defaultMetrics() MetricsCollector { return metrics.NewNop() }

// Client is the top-level handle for a broker connection: it owns the
// Connection, the correlator/registry/dispatcher/verifier/resend engine
// that processes it, and the identity used to sign publishes. The zero
// value is not usable; construct one with NewClient.
type Client struct {
	cfg     Config
	hooks   Hooks
	logger  Logger
	metrics MetricsCollector

	conn   Connection
	tokens TokenProvider

	corr     *correlator.Correlator
	ids      *reqid.Generator
	verifier *verify.Verifier
	resendC  *resend.Coordinator
	reg      *registry.Registry
	disp     *dispatch.Dispatcher
	identity *crypto.Identity
	pub      *publish.Publisher

	connected   chan ConnEvent
	disconnected chan ConnEvent
	errors      chan error

	runCancel context.CancelFunc
	runDone   chan struct{}

	closed   atomic.Bool
	closeMu  sync.Mutex
	connMu   sync.Mutex
	isLive   atomic.Bool
}

// NewClient constructs a Client from cfg, applying defaults and validating
// it first. Collaborators that don't belong in the serializable Config —
// the Connection, the TokenProvider, lifecycle Hooks — are supplied via
// Option.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ValidateWithWarnings(cfg.Logger)

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	logr := cfg.Logger
	if o.logger != nil {
		logr = o.logger
	}
	met := cfg.Metrics
	if o.metrics != nil {
		met = o.metrics
	}

	conn := o.conn
	if conn == nil {
		var err error
		conn, err = defaultConnection(cfg)
		if err != nil {
			return nil, err
		}
	}

	identity, err := deriveIdentity(cfg.Auth)
	if err != nil {
		return nil, err
	}

	tokens := o.tokens
	if tokens == nil {
		tokens, err = defaultTokenProvider(cfg.Auth, identity, cfg.Clock)
		if err != nil {
			return nil, err
		}
	}

	policy, err := verify.ParsePolicy(cfg.VerifySignatures)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	verifier, err := verify.New(policy, cfg.VerifierCacheSize, nil, met)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	ids := reqid.New()
	corr := correlator.New(cfg.Clock, met)
	resendC := resend.New(conn, corr, ids, cfg.Clock, met, resend.Config{
		RetryEmptyLastOnce: cfg.RetryResendAfter > 0,
		RetryAfter:         cfg.RetryResendAfter,
		RequestTimeout:     cfg.RequestTimeout,
	})

	c := &Client{
		cfg:          cfg,
		hooks:        o.hooks,
		logger:       logr,
		metrics:      met,
		conn:         conn,
		tokens:       tokens,
		corr:         corr,
		ids:          ids,
		verifier:     verifier,
		resendC:      resendC,
		identity:     identity,
		connected:    make(chan ConnEvent, 16),
		disconnected: make(chan ConnEvent, 16),
		errors:       make(chan error, 64),
	}

	c.reg = registry.New(registry.Dependencies{
		Conn:           conn,
		Corr:           corr,
		IDs:            ids,
		Tokens:         tokens,
		Verifier:       verifier,
		Resend:         resendC,
		Metrics:        met,
		Logger:         logr,
		AutoDisconnect: cfg.AutoDisconnect,
		Disconnect:     c.Disconnect,
	})
	c.disp = dispatch.New(dispatch.Dependencies{
		Registry: c.reg,
		Corr:     corr,
		Resend:   resendC,
		Verifier: verifier,
		Metrics:  met,
		Logger:   logr,
		OnError:  c.reportError,
	})

	if identity != nil {
		c.pub = publish.New(identity, ids.Next(), conn, ids, cfg.Clock)
	}

	return c, nil
}

// deriveIdentity parses a configured private key into a signing Identity.
// Publishing and challenge/response auth are both unavailable without one.
func deriveIdentity(a AuthConfig) (*crypto.Identity, error) {
	if a.PrivateKey == "" {
		return nil, nil
	}

	return crypto.NewIdentity(a.PrivateKey)
}

// defaultConnection constructs the Connection named by cfg.Transport/
// cfg.URL, used when NewClient is not given one via WithConnection.
func defaultConnection(cfg Config) (Connection, error) {
	switch cfg.Transport {
	case "", "websocket":
		return transport.NewWebSocket(transport.WebSocketConfig{URL: cfg.URL}), nil
	case "nats":
		return transport.NewNATS(transport.NATSConfig{
			URL:            cfg.URL,
			RequestSubject: "streamr.requests",
			InboxSubject:   "streamr.inbox." + reqid.New().Next(),
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, cfg.Transport)
	}
}

// defaultTokenProvider selects a TokenProvider from cfg.Auth: a static
// token if SessionToken is set, private-key challenge/response if
// PrivateKey is set, otherwise API-key exchange.
func defaultTokenProvider(a AuthConfig, identity *crypto.Identity, clk clock.Clock) (TokenProvider, error) {
	switch {
	case a.SessionToken != "":
		return auth.NewStatic(a.SessionToken), nil
	case a.PrivateKey != "":
		return auth.NewChallengeResponse(identity, a.AuthURL, nil, clk), nil
	case a.APIKey != "":
		return auth.NewAPIKey(a.APIKey, a.AuthURL, nil, clk), nil
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrNoAuthProvided)
	}
}

// Connect establishes the Connection and starts the Dispatcher's run loop.
// Safe to call once; a second call while already connected returns
// ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isLive.Load() {
		return ErrAlreadyConnected
	}

	if err := c.conn.Connect(ctx); err != nil {
		return types.NewError(types.KindTransport, "connect", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.runDone = make(chan struct{})
	c.isLive.Store(true)

	go c.runEvents(runCtx)
	go func() {
		defer close(c.runDone)
		c.disp.Run(runCtx, c.conn)
	}()

	return nil
}

// runEvents relays Connection lifecycle events to the Client's channels and
// Hooks, and notifies the Registry so it can replay pending subscribes on
// reconnect.
func (c *Client) runEvents(ctx context.Context) {
	events := c.conn.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}

			switch ev.Kind {
			case types.ConnEventConnected:
				c.reg.OnReconnect(ctx)
				c.send(c.connected, ev)
				if c.hooks.OnConnected != nil {
					c.hooks.OnConnected()
				}
			case types.ConnEventDisconnected:
				c.reg.OnDisconnect()
				c.send(c.disconnected, ev)
				if c.hooks.OnDisconnected != nil {
					c.hooks.OnDisconnected()
				}
			case types.ConnEventError:
				c.reportError(ev.Err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) send(ch chan ConnEvent, ev ConnEvent) {
	select {
	case ch <- ev:
	default:
	}
}

// reportError surfaces err on the Client's error channel and OnError hook.
// It never blocks: a full error channel drops the oldest notification
// rather than stalling the Dispatcher.
func (c *Client) reportError(err error) {
	if err == nil {
		return
	}

	c.logger.Error("client error", "err", err)

	select {
	case c.errors <- err:
	default:
		select {
		case <-c.errors:
		default:
		}
		select {
		case c.errors <- err:
		default:
		}
	}

	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}

// Disconnect tears down the Connection and stops the Dispatcher's run
// loop. Idempotent.
func (c *Client) Disconnect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isLive.Load() {
		return nil
	}

	err := c.conn.Disconnect(ctx)
	c.runCancel()
	<-c.runDone
	c.isLive.Store(false)

	return err
}

// Subscribe registers interest in a stream partition, optionally combined
// with a resend. AutoConnect transparently connects first if needed.
func (c *Client) Subscribe(ctx context.Context, opts SubscriptionOption, handler MessageHandler) (*Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return c.reg.Subscribe(ctx, opts, handler)
}

// Unsubscribe tears down sub, issuing an UnsubscribeRequest if it was the
// last member of its broker-side subscription.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	return c.reg.Unsubscribe(ctx, sub)
}

// Publish signs and sends content on (streamID, partition), assigning the
// next (timestamp, sequenceNumber) in this Client's publish chain.
// Publish requires Config.Auth.PrivateKey; without a signing identity it
// returns ErrNoAuthProvided.
func (c *Client) Publish(ctx context.Context, streamID string, partition int, content []byte, contentType ContentType) (*StreamMessage, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.pub == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrNoAuthProvided)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return c.pub.Publish(ctx, streamID, partition, content, contentType)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.isLive.Load() {
		return nil
	}
	if !c.cfg.AutoConnect {
		return ErrNotConnected
	}

	return c.Connect(ctx)
}

// Connected returns the channel of connected events, an alternative to
// WithHooks' OnConnected.
func (c *Client) Connected() <-chan ConnEvent { return c.connected }

// Disconnected returns the channel of disconnected events, an alternative
// to WithHooks' OnDisconnected.
func (c *Client) Disconnected() <-chan ConnEvent { return c.disconnected }

// Errors returns the channel of client-wide errors not attributable to a
// single Subscription, an alternative to WithHooks' OnError.
func (c *Client) Errors() <-chan error { return c.errors }

// Close tears down the Client. If Config.AutoDisconnect is set (the
// default) it disconnects first; Close is otherwise idempotent and safe to
// call multiple times.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Swap(true) {
		return nil
	}

	var err error
	if c.cfg.AutoDisconnect {
		err = multierr.Append(err, c.Disconnect(context.Background()))
	}

	return err
}
