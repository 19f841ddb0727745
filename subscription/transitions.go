package subscription

import "github.com/streamr-dev/streamr-client-go/internal/types"

// isValidTransition enumerates the legal state-machine edges from §4.5 as
// a lookup table, so the transition call sites check one map instead of
// scattering ad-hoc if-chains.
var isValidTransition = map[types.SubState]map[types.SubState]bool{
	types.SubPending: {
		types.SubSubscribing: true,
		types.SubUnsubscribed: true, // cancelled before ever subscribing
	},
	types.SubSubscribing: {
		types.SubSubscribed:   true,
		types.SubUnsubscribed: true,
		types.SubError:        true,
	},
	types.SubSubscribed: {
		types.SubResending:    true,
		types.SubUnsubscribing: true,
		types.SubUnsubscribed: true,
		types.SubError:        true,
	},
	types.SubResending: {
		types.SubSubscribed:    true, // resent/no-resend, live component continues
		types.SubResendDone:    true, // resent/no-resend, historical-only
		types.SubUnsubscribing: true,
		types.SubUnsubscribed:  true,
		types.SubError:         true,
	},
	types.SubResendDone: {
		types.SubUnsubscribing: true,
		types.SubUnsubscribed:  true,
		types.SubError:         true,
	},
	types.SubUnsubscribing: {
		types.SubUnsubscribed: true,
		types.SubError:        true,
	},
	types.SubUnsubscribed: {}, // terminal
	types.SubError:         {}, // terminal
}

func canTransition(from, to types.SubState) bool {
	edges, ok := isValidTransition[from]
	if !ok {
		return false
	}

	return edges[to]
}
