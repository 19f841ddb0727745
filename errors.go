package streamr

import (
	"errors"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// Sentinel errors returned by the Client, re-exported from internal/types
// so callers never need that import path for errors.Is/errors.As checks.
var (
	ErrDisconnected            = types.ErrDisconnected
	ErrTimeout                 = types.ErrTimeout
	ErrAborted                 = types.ErrAborted
	ErrUnexpectedUnicast       = types.ErrUnexpectedUnicast
	ErrInvalidVerifyPolicy     = types.ErrInvalidVerifyPolicy
	ErrMultipleResendModes     = types.ErrMultipleResendModes
	ErrStreamIDRequired        = types.ErrStreamIDRequired
	ErrNoAuthProvided          = types.ErrNoAuthProvided
	ErrSignatureVerificationFailed = types.ErrSignatureVerificationFailed
)

// Client-level sentinels, for failures that occur before any request ever
// reaches the internal engine.
var (
	// ErrInvalidConfig is returned by NewClient when Config.Validate fails.
	ErrInvalidConfig = errors.New("streamr: invalid configuration")

	// ErrAlreadyConnected is returned by Connect when the Client is already
	// connected or connecting.
	ErrAlreadyConnected = errors.New("streamr: already connected")

	// ErrNotConnected is returned by Subscribe/Publish when the Client has
	// no live Connection and AutoConnect is disabled.
	ErrNotConnected = errors.New("streamr: not connected")

	// ErrClosed is returned by any Client method called after Close.
	ErrClosed = errors.New("streamr: client is closed")
)

// IsProtocolError reports whether err is (or wraps) a Protocol-kind error.
func IsProtocolError(err error) bool { return types.IsProtocolError(err) }

// IsTransportError reports whether err is (or wraps) a Transport-kind error.
func IsTransportError(err error) bool { return types.IsTransportError(err) }

// IsConfigurationError reports whether err is (or wraps) a
// Configuration-kind error.
func IsConfigurationError(err error) bool { return types.IsConfigurationError(err) }

// IsKind reports whether err (or any error it wraps) is a *Error of kind k.
func IsKind(err error, k ErrorKind) bool { return types.IsKind(err, k) }
