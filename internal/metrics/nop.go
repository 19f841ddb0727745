// Package metrics provides MetricsCollector implementations: a no-op
// default and a Prometheus-backed collector.
package metrics

import "github.com/streamr-dev/streamr-client-go/internal/types"

// NopMetrics discards every metric. It is the default collector, so call
// sites never need a nil check.
type NopMetrics struct{}

var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop constructs a NopMetrics.
func NewNop() *NopMetrics { return &NopMetrics{} }

func (n *NopMetrics) RecordSubscriptionStateTransition(_, _ string)      {}
func (n *NopMetrics) SetActiveSubscriptions(_ int)                       {}
func (n *NopMetrics) SetActivePartitions(_ int)                          {}
func (n *NopMetrics) IncrementSubscribeRequests()                        {}
func (n *NopMetrics) IncrementResendRequests(_ string)                   {}
func (n *NopMetrics) IncrementGapEvents()                                {}
func (n *NopMetrics) RecordVerification(_ string)                        {}
func (n *NopMetrics) ObserveRequestLatencySeconds(_ string, _ float64)   {}
func (n *NopMetrics) IncrementRequestTimeouts(_ string)                  {}
func (n *NopMetrics) IncrementProtocolErrors(_ string)                   {}
