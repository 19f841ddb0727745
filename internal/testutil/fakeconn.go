// Package testutil provides an in-memory fake Connection used across the
// core's package tests, standing in for a real broker connection: cheap,
// deterministic, and fully under the test's control.
package testutil

import (
	"context"
	"sync"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// FakeConnection is a Connection whose outbound frames are recorded and
// whose inbound frames are injected by the test via Deliver.
type FakeConnection struct {
	mu      sync.Mutex
	state   types.ConnState
	sent    []*types.OutboundFrame
	inbound chan *types.InboundFrame
	events  chan types.ConnEvent
}

// NewFakeConnection constructs a disconnected FakeConnection.
func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		inbound: make(chan *types.InboundFrame, 256),
		events:  make(chan types.ConnEvent, 16),
	}
}

func (f *FakeConnection) Connect(_ context.Context) error {
	f.mu.Lock()
	f.state = types.ConnConnected
	f.mu.Unlock()

	f.events <- types.ConnEvent{Kind: types.ConnEventConnected}

	return nil
}

func (f *FakeConnection) Disconnect(_ context.Context) error {
	f.mu.Lock()
	f.state = types.ConnDisconnected
	f.mu.Unlock()

	f.events <- types.ConnEvent{Kind: types.ConnEventDisconnected}

	return nil
}

func (f *FakeConnection) Send(_ context.Context, frame *types.OutboundFrame) error {
	f.mu.Lock()
	f.sent = append(f.sent, frame)
	f.mu.Unlock()

	return nil
}

func (f *FakeConnection) Inbound() <-chan *types.InboundFrame { return f.inbound }

func (f *FakeConnection) Events() <-chan types.ConnEvent { return f.events }

func (f *FakeConnection) State() types.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

// Deliver injects an inbound frame as if received from the broker.
func (f *FakeConnection) Deliver(frame *types.InboundFrame) {
	f.inbound <- frame
}

// EmitDisconnected simulates a transport-level disconnect event without
// closing the inbound channel, so the test retains control of sequencing.
func (f *FakeConnection) EmitDisconnected(err error) {
	f.mu.Lock()
	f.state = types.ConnDisconnected
	f.mu.Unlock()

	f.events <- types.ConnEvent{Kind: types.ConnEventDisconnected, Err: err}
}

// Sent returns a snapshot of every outbound frame sent so far.
func (f *FakeConnection) Sent() []*types.OutboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*types.OutboundFrame, len(f.sent))
	copy(out, f.sent)

	return out
}

var _ types.Connection = (*FakeConnection)(nil)
