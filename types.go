package streamr

import (
	"github.com/streamr-dev/streamr-client-go/internal/ordering"
	"github.com/streamr-dev/streamr-client-go/internal/types"
	"github.com/streamr-dev/streamr-client-go/subscription"
)

// Re-export the data model and collaborator interfaces from the internal
// types package.
//
// This uses type aliases so internal packages can depend on
// internal/types without depending on the root streamr package, while
// still giving callers a single streamr.StreamMessage, streamr.Logger,
// etc. to import.
type (
	StreamMessage   = types.StreamMessage
	MessageID       = types.MessageID
	MessageRef      = types.MessageRef
	ChainKey        = types.ChainKey
	SubscriptionKey = types.SubscriptionKey
	ResendOption    = types.ResendOption
	ResendKind      = types.ResendKind

	ContentType    = types.ContentType
	EncryptionType = types.EncryptionType
	SignatureType  = types.SignatureType

	Connection    = types.Connection
	ConnState     = types.ConnState
	ConnEvent     = types.ConnEvent
	ConnEventKind = types.ConnEventKind
	TokenProvider = types.TokenProvider

	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Hooks            = types.Hooks

	ErrorKind = types.ErrorKind
	Error     = types.Error
)

// Re-export the enum constants callers need to construct the aliased types.
const (
	ResendNone  = types.ResendNone
	ResendLast  = types.ResendLast
	ResendFrom  = types.ResendFrom
	ResendRange = types.ResendRange

	ContentTypeJSON   = types.ContentTypeJSON
	ContentTypeBinary = types.ContentTypeBinary

	EncryptionNone = types.EncryptionNone

	SignatureNone      = types.SignatureNone
	SignatureSecp256k1 = types.SignatureSecp256k1

	ConnDisconnected = types.ConnDisconnected
	ConnConnecting   = types.ConnConnecting
	ConnConnected    = types.ConnConnected

	KindProtocol      = types.KindProtocol
	KindRequestFailed = types.KindRequestFailed
	KindDecode        = types.KindDecode
	KindTransport     = types.KindTransport
	KindConfiguration = types.KindConfiguration
	KindAborted       = types.KindAborted
)

// Subscription and its events live in the subscription package since they
// also need to be reachable from internal/registry and internal/dispatch
// without an import cycle through this root package.
type (
	Subscription       = subscription.Subscription
	SubscriptionOption = subscription.Options
	MessageHandler      = subscription.MessageHandler
	MessageHandlerFunc  = subscription.MessageHandlerFunc
	Event               = subscription.Event
	EventKind           = subscription.EventKind
)

const (
	EventSubscribed   = subscription.EventSubscribed
	EventUnsubscribed = subscription.EventUnsubscribed
	EventResending     = subscription.EventResending
	EventResent        = subscription.EventResent
	EventNoResend      = subscription.EventNoResend
	EventGap           = subscription.EventGap
	EventDone          = subscription.EventDone
	EventError         = subscription.EventError
)

// Gap describes a detected ordering gap on one chain, re-exported from
// internal/ordering so callers handling EventGap don't need that import
// path themselves.
type Gap = ordering.Gap
