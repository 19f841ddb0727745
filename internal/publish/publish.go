// Package publish implements the minimal Publisher path (§2 ADDED):
// assigns (timestamp, sequenceNumber) per (stream, partition, publisherId,
// msgChainId), sets prevMsgRef from the chain's last message, signs via
// crypto, and sends a PublishRequest. Message content encoding and
// partition-key assignment strategy are out of scope; callers choose the
// destination partition explicitly.
package publish

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/streamr-dev/streamr-client-go/crypto"
	"github.com/streamr-dev/streamr-client-go/internal/reqid"
	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// chainState is the Publisher's per-chain sequencing bookkeeping:
// the last assigned ref, used both to derive the next ref and to set
// the next message's prevMsgRef.
type chainState struct {
	lastRef *types.MessageRef
}

// Publisher assigns ordering metadata and signs outbound messages before
// handing them to the Connection.
type Publisher struct {
	identity   *crypto.Identity
	msgChainID string
	conn       types.Connection
	ids        *reqid.Generator
	clock      clock.Clock

	mu     sync.Mutex
	chains map[types.ChainKey]*chainState
}

// New constructs a Publisher. msgChainID identifies this Publisher's
// chain within a (stream, partition, publisher) triple — a client
// typically uses one fixed msgChainID for its lifetime.
func New(identity *crypto.Identity, msgChainID string, conn types.Connection, ids *reqid.Generator, clk clock.Clock) *Publisher {
	if clk == nil {
		clk = clock.New()
	}

	return &Publisher{
		identity:   identity,
		msgChainID: msgChainID,
		conn:       conn,
		ids:        ids,
		clock:      clk,
		chains:     make(map[types.ChainKey]*chainState),
	}
}

// Publish assigns the next (timestamp, sequenceNumber) in this Publisher's
// chain for (streamID, partition), signs the resulting StreamMessage, and
// sends it as a PublishRequest. It returns the signed message so callers
// (and tests) can inspect what was sent.
func (p *Publisher) Publish(ctx context.Context, streamID string, partition int, content []byte, contentType types.ContentType) (*types.StreamMessage, error) {
	key := types.ChainKey{StreamID: streamID, Partition: partition, PublisherID: p.identity.Address, MsgChainID: p.msgChainID}

	msg := &types.StreamMessage{
		MessageID: types.MessageID{
			StreamID:    streamID,
			Partition:   partition,
			PublisherID: p.identity.Address,
			MsgChainID:  p.msgChainID,
		},
		Content:     content,
		ContentType: contentType,
	}

	p.mu.Lock()
	state, ok := p.chains[key]
	if !ok {
		state = &chainState{}
		p.chains[key] = state
	}
	msg.MessageID.Timestamp, msg.MessageID.SequenceNumber = state.next(p.clock.Now().UnixMilli())
	msg.PrevMsgRef = state.lastRef
	ref := msg.MessageID.Ref()
	state.lastRef = &ref
	p.mu.Unlock()

	if err := crypto.Sign(p.identity, msg); err != nil {
		return nil, types.NewError(types.KindProtocol, "publish", err)
	}

	frame := &types.OutboundFrame{
		Kind:           types.OutPublishRequest,
		RequestID:      p.ids.Next(),
		StreamID:       streamID,
		Partition:      partition,
		PublisherID:    p.identity.Address,
		MsgChainID:     p.msgChainID,
		PublishMessage: msg,
	}

	if err := p.conn.Send(ctx, frame); err != nil {
		return nil, err
	}

	return msg, nil
}

// next computes the ref for a message published at wall-clock time ts
// (epoch milliseconds), guaranteeing strict monotonicity within the chain
// even if the wall clock does not advance between calls.
func (c *chainState) next(ts int64) (timestamp, sequenceNumber int64) {
	if c.lastRef == nil {
		return ts, 0
	}
	if ts <= c.lastRef.Timestamp {
		return c.lastRef.Timestamp, c.lastRef.SequenceNumber + 1
	}

	return ts, 0
}
