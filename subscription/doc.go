// Package subscription implements the user-facing Subscription handle
// (§4.5): one logical subscription's resend policy, event emission, and
// state machine, validated against an explicit transition table rather
// than ad-hoc checks at each call site.
package subscription
