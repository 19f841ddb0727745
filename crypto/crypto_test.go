package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

func sampleMessage(content string) *types.StreamMessage {
	return &types.StreamMessage{
		MessageID: types.MessageID{
			StreamID:       "s1",
			Partition:      0,
			Timestamp:      1000,
			SequenceNumber: 0,
			PublisherID:    "0xAbC",
			MsgChainID:     "chain-1",
		},
		Content:     []byte(content),
		ContentType: types.ContentTypeJSON,
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	m := sampleMessage(`{"a":1}`)
	m.MessageID.PublisherID = id.Address

	require.NoError(t, Sign(id, m))

	ok, err := Verify(m, id.Address)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerify_FailsOnTamperedContent(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	m := sampleMessage(`{"a":1}`)
	m.MessageID.PublisherID = id.Address
	require.NoError(t, Sign(id, m))

	m.Content = []byte(`{"a":2}`)

	ok, err := Verify(m, id.Address)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_FailsOnWrongAddress(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	other, err := GenerateIdentity()
	require.NoError(t, err)

	m := sampleMessage(`{"a":1}`)
	m.MessageID.PublisherID = id.Address
	require.NoError(t, Sign(id, m))

	ok, err := Verify(m, other.Address)
	require.NoError(t, err)
	require.False(t, ok)
}
