package subscription

import "errors"

// ErrAlreadyUnsubscribed names the condition of a Subscription that has
// already completed its unsubscribe transition. No operation in this
// module returns it and it is not surfaced to users as an error event:
// repeated unsubscribes are idempotent no-ops per §4.5.
var ErrAlreadyUnsubscribed = errors.New("subscription: already unsubscribed")

// ErrInvalidTransition indicates a state-machine invariant was violated.
// Surfacing it (rather than silently ignoring) would indicate a bug in the
// Dispatcher or Registry, not user error.
var ErrInvalidTransition = errors.New("subscription: invalid state transition")
