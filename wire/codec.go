// Package wire implements the JSON framing the transport package's
// Connection implementations send and receive: encode an OutboundFrame
// into the bytes written to the broker, decode bytes read from the broker
// into an InboundFrame. Kept separate from transport so either Connection
// implementation (websocket, NATS) shares one codec instead of each
// rolling its own.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// message is the envelope exchanged on the wire. Only the fields relevant
// to Type are populated, mirroring InboundFrame/OutboundFrame.
type message struct {
	Type string `json:"type"`

	RequestID    string `json:"requestId,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	StreamID  string `json:"streamId,omitempty"`
	Partition int    `json:"partition,omitempty"`

	SessionToken string          `json:"sessionToken,omitempty"`
	NumberLast   int             `json:"numberLast,omitempty"`
	From         *wireMsgRef     `json:"from,omitempty"`
	To           *wireMsgRef     `json:"to,omitempty"`
	PublisherID  string          `json:"publisherId,omitempty"`
	MsgChainID   string          `json:"msgChainId,omitempty"`
	Message      *wireStreamMsg  `json:"message,omitempty"`
}

type wireMsgRef struct {
	Timestamp      int64 `json:"timestamp"`
	SequenceNumber int64 `json:"sequenceNumber"`
}

type wireStreamMsg struct {
	StreamID       string      `json:"streamId"`
	Partition      int         `json:"partition"`
	Timestamp      int64       `json:"timestamp"`
	SequenceNumber int64       `json:"sequenceNumber"`
	PublisherID    string      `json:"publisherId"`
	MsgChainID     string      `json:"msgChainId"`
	PrevMsgRef     *wireMsgRef `json:"prevMsgRef,omitempty"`
	Content        []byte      `json:"content"`
	ContentType    int         `json:"contentType"`
	EncryptionType int         `json:"encryptionType"`
	SignatureType  int         `json:"signatureType"`
	Signature      []byte      `json:"signature,omitempty"`
}

func toWireMsgRef(r types.MessageRef) *wireMsgRef {
	return &wireMsgRef{Timestamp: r.Timestamp, SequenceNumber: r.SequenceNumber}
}

func toWireStreamMsg(m *types.StreamMessage) *wireStreamMsg {
	w := &wireStreamMsg{
		StreamID:       m.MessageID.StreamID,
		Partition:      m.MessageID.Partition,
		Timestamp:      m.MessageID.Timestamp,
		SequenceNumber: m.MessageID.SequenceNumber,
		PublisherID:    m.MessageID.PublisherID,
		MsgChainID:     m.MessageID.MsgChainID,
		Content:        m.Content,
		ContentType:    int(m.ContentType),
		EncryptionType: int(m.EncryptionType),
		SignatureType:  int(m.SignatureType),
		Signature:      m.Signature,
	}
	if m.PrevMsgRef != nil {
		w.PrevMsgRef = toWireMsgRef(*m.PrevMsgRef)
	}

	return w
}

func (w *wireStreamMsg) toStreamMessage() *types.StreamMessage {
	m := &types.StreamMessage{
		MessageID: types.MessageID{
			StreamID:       w.StreamID,
			Partition:      w.Partition,
			Timestamp:      w.Timestamp,
			SequenceNumber: w.SequenceNumber,
			PublisherID:    w.PublisherID,
			MsgChainID:     w.MsgChainID,
		},
		Content:        w.Content,
		ContentType:    types.ContentType(w.ContentType),
		EncryptionType: types.EncryptionType(w.EncryptionType),
		SignatureType:  types.SignatureType(w.SignatureType),
		Signature:      w.Signature,
	}
	if w.PrevMsgRef != nil {
		ref := types.MessageRef{Timestamp: w.PrevMsgRef.Timestamp, SequenceNumber: w.PrevMsgRef.SequenceNumber}
		m.PrevMsgRef = &ref
	}

	return m
}

var outboundTypeNames = map[types.OutboundKind]string{
	types.OutSubscribeRequest:   "SubscribeRequest",
	types.OutUnsubscribeRequest: "UnsubscribeRequest",
	types.OutResendLastRequest:  "ResendLastRequest",
	types.OutResendFromRequest:  "ResendFromRequest",
	types.OutResendRangeRequest: "ResendRangeRequest",
	types.OutPublishRequest:     "PublishRequest",
}

var inboundTypeKinds = map[string]types.FrameKind{
	"SubscribeResponse":       types.FrameSubscribeResponse,
	"UnsubscribeResponse":     types.FrameUnsubscribeResponse,
	"ResendResponseResending": types.FrameResendResponseResending,
	"ResendResponseResent":    types.FrameResendResponseResent,
	"ResendResponseNoResend":  types.FrameResendResponseNoResend,
	"BroadcastMessage":        types.FrameBroadcastMessage,
	"UnicastMessage":          types.FrameUnicastMessage,
	"ErrorResponse":           types.FrameErrorResponse,
}

// Encode serializes an OutboundFrame into the bytes sent over the wire.
func Encode(frame *types.OutboundFrame) ([]byte, error) {
	name, ok := outboundTypeNames[frame.Kind]
	if !ok {
		return nil, fmt.Errorf("wire: unknown outbound frame kind %v", frame.Kind)
	}

	msg := message{
		Type:         name,
		RequestID:    frame.RequestID,
		StreamID:     frame.StreamID,
		Partition:    frame.Partition,
		SessionToken: frame.SessionToken,
		NumberLast:   frame.NumberLast,
		PublisherID:  frame.PublisherID,
		MsgChainID:   frame.MsgChainID,
	}
	if frame.Kind == types.OutResendFromRequest || frame.Kind == types.OutResendRangeRequest {
		msg.From = toWireMsgRef(frame.FromMsgRef)
	}
	if frame.Kind == types.OutResendRangeRequest {
		msg.To = toWireMsgRef(frame.ToMsgRef)
	}
	if frame.Kind == types.OutPublishRequest && frame.PublishMessage != nil {
		msg.Message = toWireStreamMsg(frame.PublishMessage)
	}

	return json.Marshal(msg)
}

// Decode parses bytes received from the wire into an InboundFrame. A
// malformed payload is reported as FrameDecodeError carrying the streamId
// recovered from whatever could be parsed, rather than a Go error, since
// the Dispatcher needs a frame (not a connection-level failure) to notify
// the right Subscriptions (§4.7).
func Decode(raw []byte) *types.InboundFrame {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return &types.InboundFrame{Kind: types.FrameDecodeError, DecodeErr: fmt.Errorf("wire: decode: %w", err)}
	}

	kind, ok := inboundTypeKinds[msg.Type]
	if !ok {
		return &types.InboundFrame{
			Kind:      types.FrameDecodeError,
			StreamID:  msg.StreamID,
			Partition: msg.Partition,
			DecodeErr: fmt.Errorf("wire: unknown inbound frame type %q", msg.Type),
		}
	}

	frame := &types.InboundFrame{
		Kind:         kind,
		RequestID:    msg.RequestID,
		ErrorCode:    msg.ErrorCode,
		ErrorMessage: msg.ErrorMessage,
		StreamID:     msg.StreamID,
		Partition:    msg.Partition,
	}
	if msg.Message != nil {
		frame.StreamMessage = msg.Message.toStreamMessage()
	}

	return frame
}
