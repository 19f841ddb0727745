package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

func TestEncode_SubscribeRequest(t *testing.T) {
	out := &types.OutboundFrame{
		Kind:         types.OutSubscribeRequest,
		RequestID:    "req-1",
		StreamID:     "s1",
		Partition:    2,
		SessionToken: "tok",
	}

	raw, err := Encode(out)
	require.NoError(t, err)
	require.Contains(t, string(raw), "SubscribeRequest")
}

func TestDecode_BroadcastMessageRoundTrip(t *testing.T) {
	publish := &types.OutboundFrame{
		Kind:      types.OutPublishRequest,
		RequestID: "req-2",
		PublishMessage: &types.StreamMessage{
			MessageID: types.MessageID{
				StreamID: "s1", Partition: 0, Timestamp: 100, SequenceNumber: 1,
				PublisherID: "0xabc", MsgChainID: "chain-1",
			},
			Content:       []byte(`{"hello":"world"}`),
			ContentType:   types.ContentTypeJSON,
			SignatureType: types.SignatureSecp256k1,
			Signature:     []byte("0123456789012345678901234567890123456789012345678901234567890X"),
		},
	}

	raw, err := Encode(publish)
	require.NoError(t, err)

	frame := Decode(raw)
	require.Equal(t, types.FrameDecodeError, frame.Kind, "PublishRequest has no matching inbound type")

	broadcastRaw := []byte(`{"type":"BroadcastMessage","message":{"streamId":"s1","partition":0,"timestamp":100,"sequenceNumber":1,"publisherId":"0xabc","msgChainId":"chain-1","content":"eyJoZWxsbyI6IndvcmxkIn0=","contentType":0,"encryptionType":0,"signatureType":1}}`)
	decoded := Decode(broadcastRaw)
	require.Equal(t, types.FrameBroadcastMessage, decoded.Kind)
	require.NotNil(t, decoded.StreamMessage)
	require.Equal(t, "s1", decoded.StreamMessage.MessageID.StreamID)
	require.Equal(t, int64(100), decoded.StreamMessage.MessageID.Timestamp)
	require.Equal(t, []byte(`{"hello":"world"}`), decoded.StreamMessage.Content)
}

func TestDecode_UnknownTypeIsDecodeError(t *testing.T) {
	frame := Decode([]byte(`{"type":"SomethingElse","streamId":"s1"}`))
	require.Equal(t, types.FrameDecodeError, frame.Kind)
	require.Equal(t, "s1", frame.StreamID)
	require.Error(t, frame.DecodeErr)
}

func TestDecode_MalformedJSON(t *testing.T) {
	frame := Decode([]byte(`{not json`))
	require.Equal(t, types.FrameDecodeError, frame.Kind)
	require.Error(t, frame.DecodeErr)
}
