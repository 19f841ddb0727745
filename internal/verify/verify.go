// Package verify implements the MessageVerifier (§4.2): it checks a
// delivered message's cryptographic signature and memoizes the result per
// message identity so that a single delivery handed to multiple
// co-located Subscriptions is checked at most once.
//
// Memoization is backed by a bounded LRU (hashicorp/golang-lru) rather
// than a hand-rolled eviction scheme, since the cache only needs to bound
// memory for a hot set of recently-seen message identities.
package verify

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/streamr-dev/streamr-client-go/crypto"
	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// Policy is the verifySignatures configuration mode.
type Policy int

const (
	PolicyNever Policy = iota
	PolicyAuto
	PolicyAlways
)

// ParsePolicy maps the wire-configured string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "never":
		return PolicyNever, nil
	case "auto":
		return PolicyAuto, nil
	case "always":
		return PolicyAlways, nil
	default:
		return 0, fmt.Errorf("%w: %q", types.ErrInvalidVerifyPolicy, s)
	}
}

// handle is the per-message memoized verification result: a value that
// settles exactly once and is shared by every caller holding a reference
// to it.
type handle struct {
	once sync.Once
	ok   bool
	err  error
	done chan struct{}
}

func newHandle() *handle {
	return &handle{done: make(chan struct{})}
}

func (h *handle) settle(ok bool, err error) {
	h.once.Do(func() {
		h.ok, h.err = ok, err
		close(h.done)
	})
}

// Verifier implements §4.2 MessageVerifier.
type Verifier struct {
	policy           Policy
	streamRequiresSig func(streamID string) bool
	metrics          types.MetricsCollector

	mu      sync.Mutex
	inFlight map[string]*handle
	cache    *lru.Cache[string, *handle]
}

// New constructs a Verifier. streamRequiresSig is consulted only in
// PolicyAuto mode; cacheSize bounds the memoization cache (§6
// VerifierCacheSize).
func New(policy Policy, cacheSize int, streamRequiresSig func(streamID string) bool, metrics types.MetricsCollector) (*Verifier, error) {
	if cacheSize <= 0 {
		cacheSize = 10000
	}

	cache, err := lru.New[string, *handle](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("verify: new cache: %w", err)
	}

	if streamRequiresSig == nil {
		streamRequiresSig = func(string) bool { return true }
	}

	return &Verifier{
		policy:            policy,
		streamRequiresSig: streamRequiresSig,
		metrics:           metrics,
		inFlight:          make(map[string]*handle),
		cache:             cache,
	}, nil
}

// identityKey returns the memoization key for m: (streamId, publisher,
// chain, ref), per the design note on weak verification-cache keys.
func identityKey(m *types.StreamMessage) string {
	id := m.MessageID

	return fmt.Sprintf("%s/%d/%s/%s/%d.%d", id.StreamID, id.Partition, id.PublisherID, id.MsgChainID, id.Timestamp, id.SequenceNumber)
}

// Verify returns whether msg's signature matches its payload under
// msg.MessageID.PublisherID. Concurrent calls for the same message share
// one underlying check and observe the identical result.
func (v *Verifier) Verify(msg *types.StreamMessage) (bool, error) {
	if v.policy == PolicyNever {
		return true, nil
	}
	if v.policy == PolicyAuto && !v.streamRequiresSig(msg.MessageID.StreamID) {
		return true, nil
	}

	key := identityKey(msg)

	v.mu.Lock()
	if h, ok := v.cache.Get(key); ok {
		v.mu.Unlock()
		<-h.done
		v.recordOutcome("hit")

		return h.ok, h.err
	}
	if h, ok := v.inFlight[key]; ok {
		v.mu.Unlock()
		<-h.done
		v.recordOutcome("hit")

		return h.ok, h.err
	}

	h := newHandle()
	v.inFlight[key] = h
	v.mu.Unlock()

	ok, err := crypto.Verify(msg, msg.MessageID.PublisherID)
	h.settle(ok, err)

	v.mu.Lock()
	delete(v.inFlight, key)
	v.cache.Add(key, h)
	v.mu.Unlock()

	if err != nil {
		v.recordOutcome("failed")
	} else if ok {
		v.recordOutcome("verified")
	} else {
		v.recordOutcome("failed")
	}

	return ok, err
}

// Release drops the memoized entry for msg, allowing the cache to forget a
// delivery once no Subscription still holds a reference to it. It is a
// best-effort hint, not a hard guarantee, since the LRU may already have
// evicted the entry under capacity pressure.
func (v *Verifier) Release(msg *types.StreamMessage) {
	v.mu.Lock()
	v.cache.Remove(identityKey(msg))
	v.mu.Unlock()
}

func (v *Verifier) recordOutcome(outcome string) {
	if v.metrics != nil {
		v.metrics.RecordVerification(outcome)
	}
}
