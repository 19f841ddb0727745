package verify

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamr-dev/streamr-client-go/crypto"
	"github.com/streamr-dev/streamr-client-go/internal/types"
)

func TestVerify_PolicyNeverAlwaysTrue(t *testing.T) {
	v, err := New(PolicyNever, 0, nil, nil)
	require.NoError(t, err)

	ok, err := v.Verify(&types.StreamMessage{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestParsePolicy_RejectsUnknown(t *testing.T) {
	_, err := ParsePolicy("sometimes")
	require.ErrorIs(t, err, types.ErrInvalidVerifyPolicy)
}

func TestVerify_MemoizesConcurrentCallers(t *testing.T) {
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	msg := &types.StreamMessage{
		MessageID: types.MessageID{StreamID: "s1", PublisherID: id.Address, MsgChainID: "c1", Timestamp: 1, SequenceNumber: 0},
		Content:   []byte("hello"),
	}
	require.NoError(t, crypto.Sign(id, msg))

	v, err := New(PolicyAlways, 0, nil, nil)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, verr := v.Verify(msg)
			require.NoError(t, verr)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.True(t, r)
	}
}

func TestVerify_RejectsTamperedSignature(t *testing.T) {
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	msg := &types.StreamMessage{
		MessageID: types.MessageID{StreamID: "s1", PublisherID: id.Address, MsgChainID: "c1", Timestamp: 1, SequenceNumber: 0},
		Content:   []byte("hello"),
	}
	require.NoError(t, crypto.Sign(id, msg))
	msg.Content = []byte("tampered")

	v, err := New(PolicyAlways, 0, nil, nil)
	require.NoError(t, err)

	ok, err := v.Verify(msg)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_AutoPolicySkipsUnsignedStreams(t *testing.T) {
	var calls int32
	requiresSig := func(streamID string) bool {
		atomic.AddInt32(&calls, 1)
		return streamID == "signed-stream"
	}

	v, err := New(PolicyAuto, 0, requiresSig, nil)
	require.NoError(t, err)

	ok, err := v.Verify(&types.StreamMessage{MessageID: types.MessageID{StreamID: "open-stream"}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
