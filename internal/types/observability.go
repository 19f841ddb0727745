package types

// MetricsCollector records domain metrics for the subscription and resend
// engine. Implementations must be safe for concurrent use. A no-op
// implementation is used by default so call sites never need nil checks.
type MetricsCollector interface {
	// RecordSubscriptionStateTransition records a Subscription moving
	// from one state to another.
	RecordSubscriptionStateTransition(from, to string)

	// SetActiveSubscriptions sets the current count of live Subscriptions.
	SetActiveSubscriptions(count int)

	// SetActivePartitions sets the current count of broker-subscribed
	// PartitionEntries.
	SetActivePartitions(count int)

	// IncrementSubscribeRequests counts outbound SubscribeRequests.
	IncrementSubscribeRequests()

	// IncrementResendRequests counts outbound resend requests by kind
	// ("last", "from", "range").
	IncrementResendRequests(kind string)

	// IncrementGapEvents counts gap events emitted by the OrderingTracker.
	IncrementGapEvents()

	// RecordVerification records a verification outcome ("hit" for a
	// memoized result, "verified" or "failed" for a fresh check).
	RecordVerification(outcome string)

	// ObserveRequestLatencySeconds observes the round trip of a
	// correlated request by protocol name ("subscribe", "resend", ...).
	ObserveRequestLatencySeconds(op string, seconds float64)

	// IncrementRequestTimeouts counts requests that failed with Timeout.
	IncrementRequestTimeouts(op string)

	// IncrementProtocolErrors counts Protocol-kind errors surfaced to the
	// client-wide error stream.
	IncrementProtocolErrors(reason string)
}
