package streamr

// Option configures a Client with collaborators that don't belong in the
// serializable Config: the wire Connection, the session TokenProvider,
// and lifecycle Hooks.
type Option func(*clientOptions)

type clientOptions struct {
	conn    Connection
	tokens  TokenProvider
	hooks   Hooks
	logger  Logger
	metrics MetricsCollector
}

// WithConnection sets the underlying Connection. Defaults to a websocket
// or NATS Connection, chosen by Config.Transport and dialing Config.URL,
// if not set.
func WithConnection(conn Connection) Option {
	return func(o *clientOptions) { o.conn = conn }
}

// WithTokenProvider sets the TokenProvider used to attach a session token
// to every authenticated request. Defaults to a provider selected from
// Config.Auth if not set.
func WithTokenProvider(tokens TokenProvider) Option {
	return func(o *clientOptions) { o.tokens = tokens }
}

// WithHooks sets lifecycle event hooks, an alternative to consuming the
// Client's Connected/Disconnected/Errors channels directly.
//
// Example:
//
//	hooks := streamr.Hooks{
//	    OnDisconnected: func() { log.Println("disconnected") },
//	}
//	client, err := streamr.NewClient(cfg, streamr.WithHooks(hooks))
func WithHooks(hooks Hooks) Option {
	return func(o *clientOptions) { o.hooks = hooks }
}

// WithLogger sets a logger, overriding Config.Logger.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithMetrics sets a metrics collector, overriding Config.Metrics.
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *clientOptions) { o.metrics = metrics }
}
