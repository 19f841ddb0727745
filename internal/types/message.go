// Package types holds the data model and collaborator interfaces shared
// across the client's internal packages, mirroring the way arloliu/parti
// keeps its cross-package contracts in a leaf package to avoid import
// cycles between the root package and its internals.
package types

import "fmt"

// ContentType identifies how StreamMessage.Content is encoded.
type ContentType int

const (
	ContentTypeJSON ContentType = iota
	ContentTypeBinary
)

// EncryptionType identifies the encryption applied to StreamMessage.Content.
// Only EncryptionNone is implemented; the field exists so wire frames from a
// real broker deserialize without loss.
type EncryptionType int

const (
	EncryptionNone EncryptionType = iota
)

// SignatureType identifies the signature scheme covering a StreamMessage.
type SignatureType int

const (
	SignatureNone SignatureType = iota
	SignatureSecp256k1
)

// MessageRef is the ordering key within a chain: (timestamp, sequenceNumber).
// It totally orders lexicographically on (Timestamp, SequenceNumber).
type MessageRef struct {
	Timestamp      int64
	SequenceNumber int64
}

// Compare returns -1, 0, or 1 as r orders before, equal to, or after o.
func (r MessageRef) Compare(o MessageRef) int {
	switch {
	case r.Timestamp != o.Timestamp:
		if r.Timestamp < o.Timestamp {
			return -1
		}

		return 1
	case r.SequenceNumber != o.SequenceNumber:
		if r.SequenceNumber < o.SequenceNumber {
			return -1
		}

		return 1
	default:
		return 0
	}
}

// Less reports whether r orders strictly before o.
func (r MessageRef) Less(o MessageRef) bool { return r.Compare(o) < 0 }

// Successor returns the ref immediately following r within the same
// timestamp (sequence number incremented by one).
func (r MessageRef) Successor() MessageRef {
	return MessageRef{Timestamp: r.Timestamp, SequenceNumber: r.SequenceNumber + 1}
}

// Predecessor returns the ref immediately preceding r within the same
// timestamp (sequence number decremented by one).
func (r MessageRef) Predecessor() MessageRef {
	return MessageRef{Timestamp: r.Timestamp, SequenceNumber: r.SequenceNumber - 1}
}

func (r MessageRef) String() string {
	return fmt.Sprintf("%d.%d", r.Timestamp, r.SequenceNumber)
}

// MessageID identifies a StreamMessage uniquely within the network.
type MessageID struct {
	StreamID       string
	Partition      int
	Timestamp      int64
	SequenceNumber int64
	PublisherID    string
	MsgChainID     string
}

// Ref returns the MessageID's ordering key.
func (id MessageID) Ref() MessageRef {
	return MessageRef{Timestamp: id.Timestamp, SequenceNumber: id.SequenceNumber}
}

// ChainKey identifies a single publisher's contiguous sequence within a
// stream partition: (streamId, partition, publisherId, msgChainId).
type ChainKey struct {
	StreamID    string
	Partition   int
	PublisherID string
	MsgChainID  string
}

func (c ChainKey) String() string {
	return fmt.Sprintf("%s/%d/%s/%s", c.StreamID, c.Partition, c.PublisherID, c.MsgChainID)
}

// SubscriptionKey is the unit of broker-side subscription: (streamId, partition).
type SubscriptionKey struct {
	StreamID  string
	Partition int
}

func (k SubscriptionKey) String() string {
	return fmt.Sprintf("%s/%d", k.StreamID, k.Partition)
}

// Chain returns the chain key that m belongs to.
func (id MessageID) Chain() ChainKey {
	return ChainKey{StreamID: id.StreamID, Partition: id.Partition, PublisherID: id.PublisherID, MsgChainID: id.MsgChainID}
}

// StreamMessage is an immutable signed record delivered by the network.
type StreamMessage struct {
	MessageID      MessageID
	PrevMsgRef     *MessageRef
	Content        []byte
	ContentType    ContentType
	EncryptionType EncryptionType
	SignatureType  SignatureType
	Signature      []byte
}

// Key returns the subscription key this message was delivered on.
func (m *StreamMessage) Key() SubscriptionKey {
	return SubscriptionKey{StreamID: m.MessageID.StreamID, Partition: m.MessageID.Partition}
}
