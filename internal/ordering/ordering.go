// Package ordering implements the OrderingTracker (§4.3): per chain key it
// holds the last delivered message reference and detects gaps between
// real-time messages, coalescing repeated gaps on the same chain while a
// fill is already in flight.
package ordering

import (
	"sync"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// Outcome classifies what Deliver decided to do with an incoming message.
type Outcome int

const (
	// OutcomeDeliver means the message should be delivered to the user
	// handler; Gap is non-nil only for OutcomeGap.
	OutcomeDeliver Outcome = iota
	// OutcomeGap means the message should still be delivered, but a gap
	// precedes it that needs filling; Gap describes the range.
	OutcomeGap
	// OutcomeDrop means the message is a duplicate or stale and must be
	// silently dropped.
	OutcomeDrop
)

// Gap describes a missing range within a chain, inclusive on both ends.
type Gap struct {
	Chain types.ChainKey
	From  types.MessageRef
	To    types.MessageRef
}

type chainState struct {
	lastRef      types.MessageRef
	hasLast      bool
	fillInFlight bool
	pendingGap   *Gap // coalesced, extended gap to re-emit once fillInFlight clears
}

// Tracker implements §4.3 OrderingTracker.
type Tracker struct {
	mu     sync.Mutex
	chains map[types.ChainKey]*chainState
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{chains: make(map[types.ChainKey]*chainState)}
}

// Deliver processes one real-time message m for its chain and reports what
// the caller should do with it, and the gap (if any) that must be filled.
func (t *Tracker) Deliver(m *types.StreamMessage) (Outcome, *Gap) {
	chain := m.MessageID.Chain()
	ref := m.MessageID.Ref()

	t.mu.Lock()
	defer t.mu.Unlock()

	cs := t.chains[chain]
	if cs == nil {
		cs = &chainState{}
		t.chains[chain] = cs
	}

	if !cs.hasLast {
		cs.lastRef, cs.hasLast = ref, true
		return OutcomeDeliver, nil
	}

	if m.PrevMsgRef != nil && *m.PrevMsgRef == cs.lastRef {
		cs.lastRef = ref
		return OutcomeDeliver, nil
	}

	if ref.Compare(cs.lastRef) <= 0 {
		return OutcomeDrop, nil
	}

	// A gap exists: from = succ(lastRef before m). to is the last missing
	// ref before m's chain resumes: that is m.prevMsgRef itself when set
	// (the scenario in spec §8 S4 resolves the "predecessor(prevMsgRef)"
	// wording to mean prevMsgRef is itself the last missing message), or
	// pred(m.ref) when m has no prevMsgRef (chain origin never observed).
	gapTo := ref.Predecessor()
	if m.PrevMsgRef != nil {
		gapTo = *m.PrevMsgRef
	}
	gap := Gap{Chain: chain, From: cs.lastRef.Successor(), To: gapTo}

	cs.lastRef = ref

	if cs.fillInFlight {
		cs.pendingGap = coalesce(cs.pendingGap, &gap)
		return OutcomeDeliver, nil
	}

	cs.fillInFlight = true

	return OutcomeGap, &gap
}

// coalesce extends prev's range to cover next without advancing its
// From boundary backwards past what's already scheduled; per §4.3, the
// end-ref is not advanced while a fill is in flight — we simply track the
// widest pending range and re-emit it once, extended, after the in-flight
// fill completes.
func coalesce(prev, next *Gap) *Gap {
	if prev == nil {
		return next
	}

	merged := *prev
	if next.To.Compare(merged.To) > 0 {
		merged.To = next.To
	}

	return &merged
}

// FillComplete marks the in-flight fill for chain as done. If a gap was
// coalesced while the fill was in flight, it is returned so the caller can
// issue exactly one extended follow-up request; otherwise nil.
func (t *Tracker) FillComplete(chain types.ChainKey) *Gap {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs := t.chains[chain]
	if cs == nil {
		return nil
	}

	cs.fillInFlight = false
	pending := cs.pendingGap
	cs.pendingGap = nil

	if pending != nil {
		cs.fillInFlight = true
	}

	return pending
}

// ObserveFilled updates lastRef to at least ref after a successful gap
// fill, without re-triggering gap detection (fills never generate nested
// gap requests).
func (t *Tracker) ObserveFilled(chain types.ChainKey, ref types.MessageRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cs := t.chains[chain]
	if cs == nil {
		cs = &chainState{}
		t.chains[chain] = cs
	}
	if !cs.hasLast || ref.Compare(cs.lastRef) > 0 {
		cs.lastRef, cs.hasLast = ref, true
	}
}

// Reset discards all chain state, used when a Subscription is torn down.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.chains = make(map[types.ChainKey]*chainState)
	t.mu.Unlock()
}
