// Package crypto implements the signature scheme used by the network:
// secp256k1 ECDSA recoverable signatures over a Keccak-256 digest of the
// canonical payload described in spec §4.2, grounded on the decred
// secp256k1 package and golang.org/x/crypto/sha3 the way the
// dep2p-go-dep2p example repo pulls in decred/dcrd/dcrec/secp256k1 and
// golang.org/x/crypto for its own wire-level signing.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// ErrInvalidSignature is returned by Verify when the signature does not
// recover to the expected address.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// Identity is a publisher's signing identity: an address derived from a
// secp256k1 private key's Keccak-256 hash, matching the network's address
// derivation scheme.
type Identity struct {
	PrivateKey *secp256k1.PrivateKey
	Address    string
}

// GenerateIdentity creates a new random publisher identity.
func GenerateIdentity() (*Identity, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}

	return &Identity{PrivateKey: key, Address: AddressFromPublicKey(key.PubKey())}, nil
}

// NewIdentity parses a hex-encoded secp256k1 private key (with or without
// a 0x prefix) into an Identity.
func NewIdentity(hexKey string) (*Identity, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(raw))
	}

	key := secp256k1.PrivKeyFromBytes(raw)

	return &Identity{PrivateKey: key, Address: AddressFromPublicKey(key.PubKey())}, nil
}

// AddressFromPublicKey derives the lowercased hex address from a public
// key the way the network derives publisher addresses: the last 20 bytes
// of the Keccak-256 hash of the uncompressed public key (sans the 0x04
// prefix byte).
func AddressFromPublicKey(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()[1:]
	h := keccak256(raw)

	return "0x" + hex.EncodeToString(h[len(h)-20:])
}

// CanonicalPayload builds the exact byte sequence that gets signed: the
// concatenation of streamId, partition, timestamp, sequenceNumber,
// publisherId (lowercased), msgChainId and, when prevMsgRef is set, its
// timestamp and sequenceNumber, followed by the serialized content.
func CanonicalPayload(m *types.StreamMessage) []byte {
	var b strings.Builder

	b.WriteString(m.MessageID.StreamID)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(m.MessageID.Partition))
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(m.MessageID.Timestamp, 10))
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(m.MessageID.SequenceNumber, 10))
	b.WriteByte(0)
	b.WriteString(strings.ToLower(m.MessageID.PublisherID))
	b.WriteByte(0)
	b.WriteString(m.MessageID.MsgChainID)

	if m.PrevMsgRef != nil {
		b.WriteByte(0)
		b.WriteString(strconv.FormatInt(m.PrevMsgRef.Timestamp, 10))
		b.WriteByte(0)
		b.WriteString(strconv.FormatInt(m.PrevMsgRef.SequenceNumber, 10))
	}

	payload := make([]byte, 0, b.Len()+len(m.Content))
	payload = append(payload, []byte(b.String())...)
	payload = append(payload, m.Content...)

	return payload
}

// Sign signs m's canonical payload with id's private key and sets
// m.Signature and m.SignatureType in place.
func Sign(id *Identity, m *types.StreamMessage) error {
	digest := keccak256(CanonicalPayload(m))

	sig := ecdsa.SignCompact(id.PrivateKey, digest, false)
	if len(sig) != 65 {
		return fmt.Errorf("crypto: unexpected signature length %d", len(sig))
	}

	// SignCompact returns (recoveryID+27, R, S); the network's 65-byte
	// recoverable format is (R, S, recoveryID) with recoveryID last.
	recID := sig[0] - 27
	out := make([]byte, 65)
	copy(out, sig[1:])
	out[64] = recID

	m.Signature = out
	m.SignatureType = types.SignatureSecp256k1

	return nil
}

// Verify reports whether m's signature recovers to expectedAddress
// (case-insensitive). It returns (false, nil) for a well-formed but
// non-matching signature, and a non-nil error only for malformed input.
func Verify(m *types.StreamMessage, expectedAddress string) (bool, error) {
	if m.SignatureType != types.SignatureSecp256k1 {
		return false, fmt.Errorf("%w: unsupported signature type", ErrInvalidSignature)
	}
	if len(m.Signature) != 65 {
		return false, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrInvalidSignature, len(m.Signature))
	}

	digest := keccak256(CanonicalPayload(m))

	compact := make([]byte, 65)
	compact[0] = m.Signature[64] + 27
	copy(compact[1:], m.Signature[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	addr := AddressFromPublicKey(pub)

	return strings.EqualFold(addr, expectedAddress), nil
}

// SignChallenge signs an auth challenge string (as opposed to a
// StreamMessage's canonical payload) and returns the 65-byte recoverable
// signature hex-encoded with a 0x prefix, the format the challenge/
// response auth flow expects on the wire.
func SignChallenge(id *Identity, challenge string) (string, error) {
	digest := keccak256([]byte(challenge))

	sig := ecdsa.SignCompact(id.PrivateKey, digest, false)
	if len(sig) != 65 {
		return "", fmt.Errorf("crypto: unexpected signature length %d", len(sig))
	}

	recID := sig[0] - 27
	out := make([]byte, 65)
	copy(out, sig[1:])
	out[64] = recID

	return "0x" + hex.EncodeToString(out), nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)

	return h.Sum(nil)
}

// randReader aliases crypto/rand's Reader. Nothing in this package reads
// it: secp256k1.GeneratePrivateKey draws from crypto/rand directly, so
// replacing randReader has no effect on key generation.
var randReader = rand.Reader
