// Package logger provides Logger implementations used across the client
// and its tests.
package logger

import "github.com/streamr-dev/streamr-client-go/internal/types"

// NopLogger discards every message. It is the default Logger when none is
// configured, so call sites never need a nil check.
type NopLogger struct{}

var _ types.Logger = (*NopLogger)(nil)

// NewNop constructs a NopLogger.
func NewNop() *NopLogger { return &NopLogger{} }

func (n *NopLogger) Debug(_ string, _ ...any) {}
func (n *NopLogger) Info(_ string, _ ...any)  {}
func (n *NopLogger) Warn(_ string, _ ...any)  {}
func (n *NopLogger) Error(_ string, _ ...any) {}

// Fatal discards the message. Unlike a production Fatal, it does not call
// os.Exit — the client never has cause to terminate the process on the
// caller's behalf.
func (n *NopLogger) Fatal(_ string, _ ...any) {}
