package ordering

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

func msg(ts, seq int64, prev *types.MessageRef) *types.StreamMessage {
	return &types.StreamMessage{
		MessageID: types.MessageID{StreamID: "s1", Partition: 0, PublisherID: "p1", MsgChainID: "c1", Timestamp: ts, SequenceNumber: seq},
		PrevMsgRef: prev,
	}
}

func TestDeliver_FirstMessageAlwaysDelivers(t *testing.T) {
	tr := New()
	outcome, gap := tr.Deliver(msg(1, 0, nil))
	require.Equal(t, OutcomeDeliver, outcome)
	require.Nil(t, gap)
}

func TestDeliver_ContiguousChainDelivers(t *testing.T) {
	tr := New()
	tr.Deliver(msg(1, 0, nil))

	prev := types.MessageRef{Timestamp: 1, SequenceNumber: 0}
	outcome, gap := tr.Deliver(msg(2, 0, &prev))
	require.Equal(t, OutcomeDeliver, outcome)
	require.Nil(t, gap)
}

func TestDeliver_DuplicateOrStaleDropped(t *testing.T) {
	tr := New()
	tr.Deliver(msg(5, 0, nil))

	outcome, gap := tr.Deliver(msg(3, 0, nil))
	require.Equal(t, OutcomeDrop, outcome)
	require.Nil(t, gap)
}

// TestDeliver_GapDetection: ref=(1,0), then ref=(5,0),prevRef=(3,0) yields
// exactly one gap with from=(1,1),to=(3,0).
func TestDeliver_GapDetection(t *testing.T) {
	tr := New()
	tr.Deliver(msg(1, 0, nil))

	prevRef := types.MessageRef{Timestamp: 3, SequenceNumber: 0}
	outcome, gap := tr.Deliver(msg(5, 0, &prevRef))

	require.Equal(t, OutcomeGap, outcome)
	require.NotNil(t, gap)
	require.Equal(t, types.MessageRef{Timestamp: 1, SequenceNumber: 1}, gap.From)
	require.Equal(t, types.MessageRef{Timestamp: 3, SequenceNumber: 0}, gap.To)
}

// TestDeliver_CoalescesOverlappingGapWhileFillInFlight mirrors S4's second
// assertion: an overlapping gap delivered while the first is in flight does
// not emit a second request.
func TestDeliver_CoalescesOverlappingGapWhileFillInFlight(t *testing.T) {
	tr := New()
	tr.Deliver(msg(1, 0, nil))

	prevRef1 := types.MessageRef{Timestamp: 3, SequenceNumber: 0}
	outcome1, gap1 := tr.Deliver(msg(5, 0, &prevRef1))
	require.Equal(t, OutcomeGap, outcome1)
	require.NotNil(t, gap1)

	prevRef2 := types.MessageRef{Timestamp: 7, SequenceNumber: 0}
	outcome2, gap2 := tr.Deliver(msg(9, 0, &prevRef2))
	require.Equal(t, OutcomeDeliver, outcome2, "second overlapping gap must not emit its own request")
	require.Nil(t, gap2)

	chain := types.ChainKey{StreamID: "s1", Partition: 0, PublisherID: "p1", MsgChainID: "c1"}
	pending := tr.FillComplete(chain)
	require.NotNil(t, pending, "the coalesced, extended range re-emits once the in-flight fill completes")
	require.Equal(t, types.MessageRef{Timestamp: 7, SequenceNumber: 0}, pending.To)

	// After the extended follow-up is itself marked complete, nothing else is pending.
	require.Nil(t, tr.FillComplete(chain))
}

func TestObserveFilled_AdvancesLastRefWithoutGapDetection(t *testing.T) {
	tr := New()
	tr.Deliver(msg(1, 0, nil))

	chain := types.ChainKey{StreamID: "s1", Partition: 0, PublisherID: "p1", MsgChainID: "c1"}
	tr.ObserveFilled(chain, types.MessageRef{Timestamp: 3, SequenceNumber: 0})

	prev := types.MessageRef{Timestamp: 3, SequenceNumber: 0}
	outcome, gap := tr.Deliver(msg(4, 0, &prev))
	require.Equal(t, OutcomeDeliver, outcome)
	require.Nil(t, gap)
}
