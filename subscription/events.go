package subscription

import "github.com/streamr-dev/streamr-client-go/internal/ordering"

// EventKind enumerates the events a Subscription emits to the user, per §4.5.
type EventKind int

const (
	EventSubscribed EventKind = iota
	EventUnsubscribed
	EventResending
	EventResent
	EventNoResend
	EventGap
	EventDone
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSubscribed:
		return "subscribed"
	case EventUnsubscribed:
		return "unsubscribed"
	case EventResending:
		return "resending"
	case EventResent:
		return "resent"
	case EventNoResend:
		return "no-resend"
	case EventGap:
		return "gap"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one occurrence emitted on Subscription.Events().
type Event struct {
	Kind EventKind
	Gap  *ordering.Gap
	Err  error
}
