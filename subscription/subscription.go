package subscription

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/streamr-dev/streamr-client-go/internal/ordering"
	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// Options configures a new Subscription, mirroring the wire-level
// subscribe() parameters from §6.
type Options struct {
	Key    types.SubscriptionKey
	Resend types.ResendOption
	// HasResend distinguishes "no resend option" from a zero-value
	// ResendOption, since ResendKind zero value is ResendNone already —
	// kept explicit for callers that build Options incrementally.
	HasResend bool
	// Live marks whether this Subscription has a real-time leg beyond
	// any configured resend. A false value (pure historical) means the
	// terminal resend response transitions to ResendDone/Done rather than
	// back to Subscribed.
	Live bool
}

// Subscription is the user-facing handle for one logical subscription
// (§3, §4.5). It owns its resend policy, event emission, and state
// machine; message delivery runs through its OrderingTracker before
// reaching the user handler.
type Subscription struct {
	key     types.SubscriptionKey
	resend  types.ResendOption
	hasResend bool
	live    bool
	handler MessageHandler

	state atomic.Int32

	mu             sync.Mutex
	events         chan Event
	pendingResends map[string]struct{} // pending resend request-ids awaiting terminal response

	bufMu    sync.Mutex
	buffered []*types.StreamMessage // real-time messages buffered while resending (§4.4 combined subscribe+resend)

	// The gap-fill-in-progress bookkeeping named in §3's data model lives
	// inside tracker (ordering.Tracker tracks it per chain internally) —
	// Deliver already reports OutcomeDeliver instead of OutcomeGap while a
	// fill is in flight, so there is nothing additional to track here.
	tracker *ordering.Tracker

	metrics types.MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Pending Subscription.
func New(opts Options, handler MessageHandler, metrics types.MetricsCollector) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Subscription{
		key:             opts.Key,
		resend:          opts.Resend,
		hasResend:       opts.HasResend,
		live:            opts.Live,
		handler:         handler,
		events:          make(chan Event, 32),
		pendingResends:  make(map[string]struct{}),
		tracker:         ordering.New(),
		metrics:         metrics,
		ctx:             ctx,
		cancel:          cancel,
	}
	s.state.Store(int32(types.SubPending))

	return s
}

// Key returns the (streamId, partition) this Subscription targets.
func (s *Subscription) Key() types.SubscriptionKey { return s.key }

// Resend returns the configured resend option and whether one is set.
func (s *Subscription) Resend() (types.ResendOption, bool) { return s.resend, s.hasResend }

// Live reports whether this Subscription has a real-time leg beyond any
// configured resend.
func (s *Subscription) Live() bool { return s.live }

// State returns the current lifecycle state.
func (s *Subscription) State() types.SubState { return types.SubState(s.state.Load()) }

// Context returns the Subscription's cancellation context, cancelled when
// the Subscription is aborted.
func (s *Subscription) Context() context.Context { return s.ctx }

// Events returns the channel of lifecycle/delivery events for the user.
func (s *Subscription) Events() <-chan Event { return s.events }

// Tracker exposes the Subscription's OrderingTracker for the engine that
// drives gap-fill requests.
func (s *Subscription) Tracker() *ordering.Tracker { return s.tracker }

// Transition attempts to move the Subscription from its current state to
// to, validating against isValidTransition. On success it emits the event
// kind for the edge (if any) and returns true. A transition to an
// already-current terminal state (e.g. Unsubscribed -> Unsubscribed) is a
// no-op returning false without emitting a duplicate event, satisfying the
// idempotence requirement in §4.5.
func (s *Subscription) Transition(to types.SubState) bool {
	from := types.SubState(s.state.Load())
	if from == to {
		return false
	}
	if !canTransition(from, to) {
		return false
	}

	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	if s.metrics != nil {
		s.metrics.RecordSubscriptionStateTransition(from.String(), to.String())
	}

	s.emitForTransition(from, to)

	return true
}

func (s *Subscription) emitForTransition(from, to types.SubState) {
	switch to {
	case types.SubSubscribed:
		if from == types.SubSubscribing {
			s.emit(Event{Kind: EventSubscribed})
		}
	case types.SubUnsubscribed:
		s.emit(Event{Kind: EventUnsubscribed})
		if !s.live && from == types.SubResendDone {
			s.emit(Event{Kind: EventDone})
		}
		s.cancel()
	case types.SubResendDone:
		if !s.live {
			s.emit(Event{Kind: EventDone})
		}
	case types.SubError:
		s.cancel()
	}
}

// EmitResending emits the resending event (entering a resend episode).
func (s *Subscription) EmitResending() { s.emit(Event{Kind: EventResending}) }

// EmitResent emits the resent event (an episode ended with messages delivered).
func (s *Subscription) EmitResent() { s.emit(Event{Kind: EventResent}) }

// EmitNoResend emits the no-resend event (an episode ended with nothing to deliver).
func (s *Subscription) EmitNoResend() { s.emit(Event{Kind: EventNoResend}) }

// EmitGap emits a gap event for a detected ordering gap.
func (s *Subscription) EmitGap(g *ordering.Gap) { s.emit(Event{Kind: EventGap, Gap: g}) }

// EmitError emits an error event without forcing a state transition; callers
// decide separately whether the error is fatal to the Subscription.
func (s *Subscription) EmitError(err error) { s.emit(Event{Kind: EventError, Err: err}) }

func (s *Subscription) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// Deliver runs a verified, in-order real-time message through the
// OrderingTracker and, unless the Subscription has already transitioned
// past Unsubscribed/Error, invokes the user handler. It enforces invariant
// 5: a Subscription that has emitted unsubscribed never subsequently
// invokes its handler, even if Deliver races with the transition.
//
// While a resend episode is in progress (state Resending), real-time
// messages are buffered rather than delivered immediately — combined
// subscribe+resend (§4.4) requires the resent batch to be delivered first,
// with live messages flushed in arrival order once the resend terminates.
func (s *Subscription) Deliver(ctx context.Context, m *types.StreamMessage) (ordering.Outcome, *ordering.Gap) {
	if types.SubState(s.state.Load()) == types.SubResending {
		s.bufMu.Lock()
		s.buffered = append(s.buffered, m)
		s.bufMu.Unlock()

		return ordering.OutcomeDeliver, nil
	}

	outcome, gap := s.tracker.Deliver(m)
	if outcome == ordering.OutcomeDrop {
		return outcome, gap
	}

	if !s.canDeliverHandler() {
		return outcome, gap
	}

	if err := s.handler.Handle(ctx, m); err != nil {
		s.EmitError(err)
	}

	return outcome, gap
}

// DeliverResend delivers one message from a resend or gap-fill episode
// directly to the user handler, bypassing the OrderingTracker: a resent
// batch arrives already in order and must not trigger gap detection against
// the live chain state.
func (s *Subscription) DeliverResend(ctx context.Context, m *types.StreamMessage) {
	if !s.canDeliverHandler() {
		return
	}

	if err := s.handler.Handle(ctx, m); err != nil {
		s.EmitError(err)
	}
}

// FlushBuffered replays real-time messages buffered while resending through
// the OrderingTracker, in arrival order, then clears the buffer. Called once
// a resend episode has terminated and the Subscription has transitioned
// back to Subscribed.
func (s *Subscription) FlushBuffered(ctx context.Context) {
	s.bufMu.Lock()
	pending := s.buffered
	s.buffered = nil
	s.bufMu.Unlock()

	for _, m := range pending {
		outcome, gap := s.tracker.Deliver(m)
		if outcome == ordering.OutcomeDrop {
			continue
		}
		if outcome == ordering.OutcomeGap {
			s.EmitGap(gap)
		}
		if !s.canDeliverHandler() {
			continue
		}
		if err := s.handler.Handle(ctx, m); err != nil {
			s.EmitError(err)
		}
	}
}

// PendingResends returns a snapshot of every resend request-id this
// Subscription is currently waiting on.
func (s *Subscription) PendingResends() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.pendingResends))
	for id := range s.pendingResends {
		out = append(out, id)
	}

	return out
}

func (s *Subscription) canDeliverHandler() bool {
	switch types.SubState(s.state.Load()) {
	case types.SubUnsubscribed, types.SubError, types.SubUnsubscribing:
		return false
	default:
		return true
	}
}

// TrackResend registers a pending resend request-id awaiting a terminal
// response.
func (s *Subscription) TrackResend(reqID string) {
	s.mu.Lock()
	s.pendingResends[reqID] = struct{}{}
	s.mu.Unlock()
}

// UntrackResend removes a pending resend request-id.
func (s *Subscription) UntrackResend(reqID string) {
	s.mu.Lock()
	delete(s.pendingResends, reqID)
	s.mu.Unlock()
}

