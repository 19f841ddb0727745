package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// PrometheusCollector implements types.MetricsCollector backed by
// Prometheus: counters and histograms for subscription state transitions,
// resend requests, gap events, verification outcomes, and request
// latency/timeouts, registered once on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions  *prometheus.CounterVec
	activeSubs        prometheus.Gauge
	activePartitions  prometheus.Gauge
	subscribeRequests prometheus.Counter
	resendRequests    *prometheus.CounterVec
	gapEvents         prometheus.Counter
	verifications     *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
	requestTimeouts   *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec
}

var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus constructs a PrometheusCollector. reg defaults to
// prometheus.DefaultRegisterer; namespace defaults to "streamr".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "streamr"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "subscription",
			Name:      "state_transitions_total",
			Help:      "Subscription state transitions by (from, to).",
		}, []string{"from", "to"})

		p.activeSubs = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "subscription",
			Name:      "active_subscriptions",
			Help:      "Current number of live Subscriptions.",
		})

		p.activePartitions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "active_partitions",
			Help:      "Current number of broker-subscribed partitions.",
		})

		p.subscribeRequests = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "subscribe_requests_total",
			Help:      "Total outbound SubscribeRequests.",
		})

		p.resendRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "resend",
			Name:      "requests_total",
			Help:      "Total outbound resend requests by kind (last|from|range).",
		}, []string{"kind"})

		p.gapEvents = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "ordering",
			Name:      "gap_events_total",
			Help:      "Total ordering gaps detected.",
		})

		p.verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "verify",
			Name:      "outcomes_total",
			Help:      "Verification outcomes by result (hit|verified|failed).",
		}, []string{"outcome"})

		p.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "correlator",
			Name:      "request_latency_seconds",
			Help:      "Round-trip latency of correlated requests by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"})

		p.requestTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "correlator",
			Name:      "request_timeouts_total",
			Help:      "Correlated requests that failed with Timeout, by operation.",
		}, []string{"op"})

		p.protocolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "dispatch",
			Name:      "protocol_errors_total",
			Help:      "Protocol-kind errors surfaced to the client-wide error stream, by reason.",
		}, []string{"reason"})

		p.reg.MustRegister(
			p.stateTransitions, p.activeSubs, p.activePartitions, p.subscribeRequests,
			p.resendRequests, p.gapEvents, p.verifications, p.requestLatency,
			p.requestTimeouts, p.protocolErrors,
		)
	})
}

func (p *PrometheusCollector) RecordSubscriptionStateTransition(from, to string) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusCollector) SetActiveSubscriptions(count int) {
	p.ensureRegistered()
	p.activeSubs.Set(float64(count))
}

func (p *PrometheusCollector) SetActivePartitions(count int) {
	p.ensureRegistered()
	p.activePartitions.Set(float64(count))
}

func (p *PrometheusCollector) IncrementSubscribeRequests() {
	p.ensureRegistered()
	p.subscribeRequests.Inc()
}

func (p *PrometheusCollector) IncrementResendRequests(kind string) {
	p.ensureRegistered()
	p.resendRequests.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) IncrementGapEvents() {
	p.ensureRegistered()
	p.gapEvents.Inc()
}

func (p *PrometheusCollector) RecordVerification(outcome string) {
	p.ensureRegistered()
	p.verifications.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) ObserveRequestLatencySeconds(op string, seconds float64) {
	p.ensureRegistered()
	p.requestLatency.WithLabelValues(op).Observe(seconds)
}

func (p *PrometheusCollector) IncrementRequestTimeouts(op string) {
	p.ensureRegistered()
	p.requestTimeouts.WithLabelValues(op).Inc()
}

func (p *PrometheusCollector) IncrementProtocolErrors(reason string) {
	p.ensureRegistered()
	p.protocolErrors.WithLabelValues(reason).Inc()
}
