// Package streamr provides a Go client for the Streamr real-time data
// network: publishing signed messages onto streams and subscribing to
// live and historical (resend) delivery over a broker connection.
//
// # Quick Start
//
// Basic usage with default settings:
//
//	import "github.com/streamr-dev/streamr-client-go"
//
//	cfg := streamr.DefaultConfig()
//	cfg.URL = "wss://broker.example.com/ws"
//	cfg.Auth.PrivateKey = "0x..."
//
//	client, err := streamr.NewClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	client.Subscribe(ctx, streamr.SubscriptionOption{
//	    Key: streamr.SubscriptionKey{StreamID: "my-stream", Partition: 0},
//	    Live: true,
//	}, streamr.MessageHandlerFunc(func(ctx context.Context, msg *streamr.StreamMessage) error {
//	    fmt.Println(string(msg.Content))
//	    return nil
//	}))
//
// # Key Features
//
//   - Signed publishing: messages are signed with a secp256k1 identity and
//     chained via per-(stream, partition, publisher, msgChain) sequencing
//   - Live and resend subscriptions: ResendLast/ResendFrom/ResendRange
//     replay history before transitioning to live delivery
//   - Ordering and gap detection: missing messages are surfaced as
//     EventGap and filled by a range resend; duplicate or stale messages
//     are dropped
//   - Pluggable transport: websocket or NATS, or a custom Connection
//   - Pluggable authentication: private key challenge/response, API key,
//     or a static session token
//
// # Architecture
//
// A Connection abstracts the wire transport; a Client wires together a
// request correlator, a subscription registry, a resend coordinator, and
// a message verifier around it. Subscribe and Publish both transparently
// connect first when Config.AutoConnect is set.
//
// # Advanced Usage
//
// Custom transport and lifecycle hooks:
//
//	hooks := streamr.Hooks{
//	    OnDisconnected: func() { log.Println("disconnected") },
//	    OnError:        func(err error) { log.Println("client error:", err) },
//	}
//
//	client, err := streamr.NewClient(cfg,
//	    streamr.WithConnection(myConnection),
//	    streamr.WithHooks(hooks),
//	)
package streamr
