// Package registry implements the SubscriptionRegistry (§4.6): it indexes
// Subscriptions by (streamId, partition), fans out incoming broadcast and
// unicast messages to matching Subscriptions, coalesces subscribe/
// unsubscribe so the broker sees at most one subscription per partition,
// and replays pending subscribes on reconnect.
package registry

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/streamr-dev/streamr-client-go/internal/correlator"
	"github.com/streamr-dev/streamr-client-go/internal/ordering"
	"github.com/streamr-dev/streamr-client-go/internal/reqid"
	"github.com/streamr-dev/streamr-client-go/internal/resend"
	"github.com/streamr-dev/streamr-client-go/internal/types"
	"github.com/streamr-dev/streamr-client-go/internal/verify"
	"github.com/streamr-dev/streamr-client-go/subscription"
)

// PartitionEntry is the Registry-owned record for one broker-side
// subscription (§3). Subscriptions hold only its Key, a value, never a
// pointer back — the design note's resolution of the Subscription<->Registry
// cyclic reference.
type PartitionEntry struct {
	Key              types.SubscriptionKey
	BrokerSubscribed bool
	Members          map[*subscription.Subscription]struct{}

	mu sync.Mutex
}

func newPartitionEntry(key types.SubscriptionKey) *PartitionEntry {
	return &PartitionEntry{Key: key, Members: make(map[*subscription.Subscription]struct{})}
}

func (p *PartitionEntry) addMember(s *subscription.Subscription) {
	p.mu.Lock()
	p.Members[s] = struct{}{}
	p.mu.Unlock()
}

func (p *PartitionEntry) removeMember(s *subscription.Subscription) int {
	p.mu.Lock()
	delete(p.Members, s)
	n := len(p.Members)
	p.mu.Unlock()

	return n
}

// claimBrokerSubscribe atomically claims responsibility for issuing the
// wire SubscribeRequest, returning true at most once per broker-side
// subscription epoch (§8 invariant 2).
func (p *PartitionEntry) claimBrokerSubscribe() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.BrokerSubscribed {
		return false
	}
	p.BrokerSubscribed = true

	return true
}

func (p *PartitionEntry) setBrokerSubscribed(v bool) {
	p.mu.Lock()
	p.BrokerSubscribed = v
	p.mu.Unlock()
}

func (p *PartitionEntry) snapshotMembers() []*subscription.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*subscription.Subscription, 0, len(p.Members))
	for s := range p.Members {
		out = append(out, s)
	}

	return out
}

// Dependencies bundles the Registry's collaborators.
type Dependencies struct {
	Conn     types.Connection
	Corr     *correlator.Correlator
	IDs      *reqid.Generator
	Tokens   types.TokenProvider
	Verifier *verify.Verifier
	Resend   *resend.Coordinator
	Metrics  types.MetricsCollector
	Logger   types.Logger

	// AutoDisconnect, when set, has Unsubscribe invoke Disconnect once no
	// Subscription remains anywhere in the Registry.
	AutoDisconnect bool
	Disconnect     func(ctx context.Context) error
}

// Registry implements §4.6 SubscriptionRegistry. PartitionEntries are kept
// in a lock-free concurrent map since they are read on every inbound
// broadcast frame and written only on subscribe/unsubscribe/reconnect —
// a read-heavy access pattern a sharded map handles without contention.
type Registry struct {
	deps Dependencies

	entries *xsync.Map[types.SubscriptionKey, *PartitionEntry]

	mu       sync.Mutex
	byStream map[string][]*subscription.Subscription
}

// New constructs an empty Registry.
func New(deps Dependencies) *Registry {
	return &Registry{
		deps:     deps,
		entries:  xsync.NewMap[types.SubscriptionKey, *PartitionEntry](),
		byStream: make(map[string][]*subscription.Subscription),
	}
}

// Subscribe validates opts, creates a Subscription, and coalesces the
// broker-side subscribe: if the PartitionEntry has no broker subscription
// yet, it issues one SubscribeRequest and awaits the response; otherwise
// the new Subscription reaches Subscribed synchronously once registered,
// sharing the ongoing/'established broker subscription.
func (r *Registry) Subscribe(ctx context.Context, opts subscription.Options, handler subscription.MessageHandler) (*subscription.Subscription, error) {
	if opts.Key.StreamID == "" {
		return nil, types.NewError(types.KindConfiguration, "subscribe", types.ErrStreamIDRequired)
	}
	if err := validateResend(opts); err != nil {
		return nil, types.NewError(types.KindConfiguration, "subscribe", err)
	}

	sub := subscription.New(opts, handler, r.deps.Metrics)

	entry, _ := r.entries.LoadOrStore(opts.Key, newPartitionEntry(opts.Key))
	entry.addMember(sub)

	r.mu.Lock()
	r.byStream[opts.Key.StreamID] = append(r.byStream[opts.Key.StreamID], sub)
	r.mu.Unlock()

	needsWireSubscribe := entry.claimBrokerSubscribe()

	if r.deps.Metrics != nil {
		r.deps.Metrics.SetActivePartitions(r.entries.Size())
		r.deps.Metrics.SetActiveSubscriptions(r.subscriptionCount())
	}

	if !needsWireSubscribe {
		sub.Transition(types.SubSubscribing)
		sub.Transition(types.SubSubscribed)
		r.maybeStartResend(ctx, sub)

		return sub, nil
	}

	sub.Transition(types.SubSubscribing)

	if err := r.sendSubscribeRequest(ctx, opts.Key); err != nil {
		entry.setBrokerSubscribed(false)
		sub.Transition(types.SubError)

		return sub, err
	}

	sub.Transition(types.SubSubscribed)
	r.maybeStartResend(ctx, sub)

	return sub, nil
}

// maybeStartResend issues the configured resend as part of combined
// subscribe+resend (§4.4) once sub has reached Subscribed. Real-time
// messages arriving during the resend are buffered by Subscription.Deliver
// and flushed once the episode terminates.
func (r *Registry) maybeStartResend(ctx context.Context, sub *subscription.Subscription) {
	resendOpt, ok := sub.Resend()
	if !ok || r.deps.Resend == nil {
		return
	}

	sub.Transition(types.SubResending)
	sub.EmitResending()

	go r.runResendEpisode(ctx, sub, resendOpt)
}

func (r *Registry) runResendEpisode(ctx context.Context, sub *subscription.Subscription, opt types.ResendOption) {
	token, _ := r.sessionToken(ctx)

	var ep *resend.Episode
	var err error

	switch opt.Kind {
	case types.ResendLast:
		ep, err = r.deps.Resend.RequestLast(ctx, sub.Key(), opt.NumberLast, token)
	case types.ResendFrom:
		ep, err = r.deps.Resend.RequestFrom(ctx, sub.Key(), opt.From, opt.PublisherID, opt.MsgChainID, token)
	case types.ResendRange:
		ep, err = r.deps.Resend.RequestRange(ctx, sub.Key(), opt.From, opt.To, opt.PublisherID, opt.MsgChainID, token)
	default:
		return
	}

	if err != nil {
		sub.EmitError(err)
		r.finishResendEpisode(ctx, sub, false)
		return
	}

	sub.TrackResend(ep.RequestID)
	drainEpisode(ctx, ep, func(m *types.StreamMessage) { sub.DeliverResend(ctx, m) })
	sub.UntrackResend(ep.RequestID)

	r.finishResendEpisode(ctx, sub, ep.Terminal == resend.TerminalResent)
}

func (r *Registry) finishResendEpisode(ctx context.Context, sub *subscription.Subscription, resent bool) {
	if resent {
		sub.EmitResent()
	} else {
		sub.EmitNoResend()
	}

	if sub.Live() {
		sub.Transition(types.SubSubscribed)
		sub.FlushBuffered(ctx)
	} else {
		sub.Transition(types.SubResendDone)
	}
}

// drainEpisode forwards every message an episode delivers to onMessage, in
// arrival order, then waits for it to terminate. Messages already queued
// when Done closes are drained before returning, since Done closing and the
// final message landing on the buffered channel race.
func drainEpisode(ctx context.Context, ep *resend.Episode, onMessage func(*types.StreamMessage)) {
	for {
		select {
		case m := <-ep.Messages:
			onMessage(m)
		case <-ep.Done:
			for {
				select {
				case m := <-ep.Messages:
					onMessage(m)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) sendSubscribeRequest(ctx context.Context, key types.SubscriptionKey) error {
	reqID := r.deps.IDs.Next()

	token, err := r.sessionToken(ctx)
	if err != nil {
		return types.NewError(types.KindConfiguration, "subscribe", err)
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.IncrementSubscribeRequests()
	}

	frame := &types.OutboundFrame{
		Kind:         types.OutSubscribeRequest,
		RequestID:    reqID,
		StreamID:     key.StreamID,
		Partition:    key.Partition,
		SessionToken: token,
	}
	if err := r.deps.Conn.Send(ctx, frame); err != nil {
		return types.NewError(types.KindTransport, "subscribe", err)
	}

	_, err = r.deps.Corr.AwaitResponse(ctx, "subscribe", reqID, []types.FrameKind{types.FrameSubscribeResponse}, 0)

	return err
}

func (r *Registry) sessionToken(ctx context.Context) (string, error) {
	if r.deps.Tokens == nil {
		return "", nil
	}

	return r.deps.Tokens.SessionToken(ctx)
}

// Unsubscribe removes sub from its PartitionEntry. If the entry becomes
// empty, it issues an UnsubscribeRequest. Repeated unsubscribes on the
// same Subscription are idempotent no-ops (Transition handles that).
func (r *Registry) Unsubscribe(ctx context.Context, sub *subscription.Subscription) error {
	if sub.State() == types.SubUnsubscribed {
		return nil
	}

	sub.Transition(types.SubUnsubscribing)

	entry, ok := r.entries.Load(sub.Key())
	if !ok {
		sub.Transition(types.SubUnsubscribed)
		return nil
	}

	remaining := entry.removeMember(sub)
	r.removeFromStreamIndex(sub)

	if remaining > 0 {
		sub.Transition(types.SubUnsubscribed)
		return nil
	}

	reqID := r.deps.IDs.Next()
	token, _ := r.sessionToken(ctx)
	frame := &types.OutboundFrame{Kind: types.OutUnsubscribeRequest, RequestID: reqID, StreamID: sub.Key().StreamID, Partition: sub.Key().Partition, SessionToken: token}

	r.entries.Delete(sub.Key())

	if err := r.deps.Conn.Send(ctx, frame); err != nil {
		sub.Transition(types.SubUnsubscribed)
		r.maybeAutoDisconnect(ctx)

		return types.NewError(types.KindTransport, "unsubscribe", err)
	}

	_, err := r.deps.Corr.AwaitResponse(ctx, "unsubscribe", reqID, []types.FrameKind{types.FrameUnsubscribeResponse}, 0)
	sub.Transition(types.SubUnsubscribed)
	r.maybeAutoDisconnect(ctx)

	return err
}

// maybeAutoDisconnect requests the connection to disconnect once no
// Subscription remains anywhere in the Registry, if configured to do so.
func (r *Registry) maybeAutoDisconnect(ctx context.Context) {
	if !r.deps.AutoDisconnect || r.deps.Disconnect == nil {
		return
	}
	if r.subscriptionCount() > 0 {
		return
	}

	if err := r.deps.Disconnect(ctx); err != nil && r.deps.Logger != nil {
		r.deps.Logger.Warn("auto-disconnect after last unsubscribe failed", "err", err)
	}
}

func (r *Registry) removeFromStreamIndex(sub *subscription.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byStream[sub.Key().StreamID]
	for i, s := range list {
		if s == sub {
			r.byStream[sub.Key().StreamID] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// GetSubscriptions returns every live Subscription for streamID.
func (r *Registry) GetSubscriptions(streamID string) []*subscription.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*subscription.Subscription, len(r.byStream[streamID]))
	copy(out, r.byStream[streamID])

	return out
}

// EntryFor returns the PartitionEntry for key, if any.
func (r *Registry) EntryFor(key types.SubscriptionKey) (*PartitionEntry, bool) {
	return r.entries.Load(key)
}

func (r *Registry) snapshotEntries() []*PartitionEntry {
	entries := make([]*PartitionEntry, 0, r.entries.Size())
	r.entries.Range(func(_ types.SubscriptionKey, e *PartitionEntry) bool {
		entries = append(entries, e)
		return true
	})

	return entries
}

// OnDisconnect transitions every live Subscription directly to Unsubscribed
// without sending UnsubscribeRequest (§5 Reconnection semantics); entries
// remain in the Registry marked pending-resubscribe (BrokerSubscribed reset).
func (r *Registry) OnDisconnect() {
	for _, e := range r.snapshotEntries() {
		e.setBrokerSubscribed(false)

		for _, sub := range e.snapshotMembers() {
			sub.Transition(types.SubUnsubscribed)
		}
	}
}

// OnReconnect re-issues one SubscribeRequest per PartitionEntry with ≥1
// member, with a fresh request-id. Historical-only Subscriptions (no live
// leg) that already reached ResendDone are not replayed — they have no
// members left to serve since their entry was never re-added as pending.
func (r *Registry) OnReconnect(ctx context.Context) []error {
	entries := r.snapshotEntries()

	var errs []error
	for _, e := range entries {
		members := e.snapshotMembers()
		if len(members) == 0 {
			continue
		}

		live := false
		for _, m := range members {
			if m.State() != types.SubResendDone {
				live = true
				break
			}
		}
		if !live {
			continue
		}

		for _, m := range members {
			m.Transition(types.SubSubscribing)
		}

		if err := r.sendSubscribeRequest(ctx, e.Key); err != nil {
			errs = append(errs, err)
			continue
		}

		e.setBrokerSubscribed(true)

		for _, m := range members {
			m.Transition(types.SubSubscribed)
		}
	}

	return errs
}

// DeliverBroadcast fans a verified BroadcastMessage out to every member of
// its matching PartitionEntry. Each member that detects a gap against m
// gets its own gap-fill episode, since each Subscription's OrderingTracker
// tracks chain state independently (two Subscriptions on the same partition
// may join the chain at different points).
func (r *Registry) DeliverBroadcast(ctx context.Context, m *types.StreamMessage) []*subscription.Subscription {
	entry, ok := r.entries.Load(m.Key())
	if !ok {
		return nil
	}

	members := entry.snapshotMembers()
	for _, sub := range members {
		outcome, gap := sub.Deliver(ctx, m)
		if outcome == ordering.OutcomeGap && gap != nil {
			sub.EmitGap(gap)
			go r.fillGap(ctx, sub, gap)
		}
	}

	return members
}

// fillGap drives a gap-fill episode to completion and, if real-time
// delivery coalesced a wider gap while the fill was in flight, issues
// exactly one extended follow-up (§4.3).
func (r *Registry) fillGap(ctx context.Context, sub *subscription.Subscription, gap *ordering.Gap) {
	if r.deps.Resend == nil {
		return
	}

	token, _ := r.sessionToken(ctx)

	for gap != nil {
		ep, err := r.deps.Resend.FillGap(ctx, sub.Key(), gap.Chain, gap.From, gap.To, token)
		if err != nil {
			sub.EmitError(err)
			return
		}

		sub.TrackResend(ep.RequestID)
		drainEpisode(ctx, ep, func(m *types.StreamMessage) {
			sub.DeliverResend(ctx, m)
			sub.Tracker().ObserveFilled(gap.Chain, m.MessageID.Ref())
		})
		sub.UntrackResend(ep.RequestID)

		gap = sub.Tracker().FillComplete(gap.Chain)
	}
}

func (r *Registry) subscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, list := range r.byStream {
		n += len(list)
	}

	return n
}

func validateResend(opts subscription.Options) error {
	if !opts.HasResend {
		return nil
	}
	switch opts.Resend.Kind {
	case types.ResendLast, types.ResendFrom, types.ResendRange:
		return nil
	default:
		return types.ErrMultipleResendModes
	}
}
