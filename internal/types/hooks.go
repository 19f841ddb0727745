package types

// Hooks are optional callbacks invoked on client-wide lifecycle events.
// Each field is optional; unset hooks are simply not called. Hooks are
// invoked in a background goroutine and must not block for long or they
// will delay delivery of subsequent events of the same kind.
type Hooks struct {
	// OnConnected is called after the underlying Connection reports connected.
	OnConnected func()

	// OnDisconnected is called after the underlying Connection reports
	// disconnected, before reconnect replay begins.
	OnDisconnected func()

	// OnError is called for every error surfaced on the client-wide error
	// stream, in addition to any per-Subscription error event.
	OnError func(err error)
}
