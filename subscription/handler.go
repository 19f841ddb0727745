package subscription

import (
	"context"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// MessageHandler processes one verified delivered message for a
// Subscription. Handlers run sequentially per Subscription, in delivery
// order (§5 ordering guarantee 1).
//
// Example:
//
//	var h MessageHandler = MessageHandlerFunc(func(ctx context.Context, msg *types.StreamMessage) error {
//	    fmt.Println(string(msg.Content))
//	    return nil
//	})
type MessageHandler interface {
	Handle(ctx context.Context, msg *types.StreamMessage) error
}

// MessageHandlerFunc is a function adapter for MessageHandler.
type MessageHandlerFunc func(ctx context.Context, msg *types.StreamMessage) error

// Handle implements MessageHandler.
func (f MessageHandlerFunc) Handle(ctx context.Context, msg *types.StreamMessage) error { return f(ctx, msg) }
