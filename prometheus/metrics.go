// Package prometheus provides a Prometheus implementation of the
// sigberry.Metrics interface.
//
// # Metric Names
//
// All metrics use the configured namespace prefix (default: "sigberry").
//
// # Counters
//
//	sigberry_connections_opened_total{direction="inbound|outbound"}
//	sigberry_connections_closed_total{direction="inbound|outbound"}
//	sigberry_connections_reaped_total
//	sigberry_substreams_negotiated_total{direction="inbound|outbound"}
//	sigberry_substreams_failed_total{direction="inbound|outbound",code="<code>"}
//	sigberry_messages_sent_total{type="SdpOffer|SdpAnswer|IceCandidate"}
//	sigberry_messages_received_total{type="SdpOffer|SdpAnswer|IceCandidate"}
//	sigberry_bytes_sent_total{type="<type>"}
//	sigberry_bytes_received_total{type="<type>"}
//	sigberry_messages_dropped_total{reason="queue_full|substream_failed|connection_closed"}
//	sigberry_backpressure_engaged_total
//	sigberry_events_emitted_total{kind="<kind>"}
//	sigberry_events_dropped_total
//
// # Histograms
//
//	sigberry_negotiation_duration_seconds
//
// # Gauges
//
//	sigberry_outbound_queue_depth
//
// # Example Usage
//
//	metrics := prommetrics.NewMetrics("myapp")
//	cfg := sigberry.NewConfig(key, addrs, sigberry.WithMetrics(metrics))
//	node, err := sigberry.New(cfg)
//
//	http.Handle("/metrics", promhttp.Handler())
package prometheus

import (
	"github.com/blockberries/sigberry"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is the default namespace for all metrics.
const DefaultNamespace = "sigberry"

// Metrics implements the sigberry.Metrics interface using Prometheus metrics.
//
// Metrics is safe for concurrent use.
type Metrics struct {
	// Connection metrics
	connectionsOpened *prometheus.CounterVec
	connectionsClosed *prometheus.CounterVec
	connectionsReaped prometheus.Counter

	// Substream metrics
	substreamsNegotiated *prometheus.CounterVec
	substreamsFailed     *prometheus.CounterVec
	negotiationDuration  prometheus.Histogram

	// Message metrics
	messagesSent       *prometheus.CounterVec
	messagesReceived   *prometheus.CounterVec
	bytesSent          *prometheus.CounterVec
	bytesReceived      *prometheus.CounterVec
	messagesDropped    *prometheus.CounterVec
	outboundQueueDepth prometheus.Gauge

	// Flow control and event metrics
	backpressureEngaged prometheus.Counter
	eventsEmitted       *prometheus.CounterVec
	eventsDropped       prometheus.Counter
}

// Ensure Metrics implements sigberry.Metrics.
var _ sigberry.Metrics = (*Metrics)(nil)

// NewMetrics creates a collector registered with the default Prometheus
// registry. It panics if the metrics are already registered; use
// NewMetricsWithRegisterer with a custom registry to avoid that.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a collector registered with registerer.
// If namespace is empty, DefaultNamespace is used. If registerer is nil,
// metrics are not registered.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		connectionsOpened: counterVec("connections_opened_total",
			"Total number of connections that got a signaling handler", "direction"),
		connectionsClosed: counterVec("connections_closed_total",
			"Total number of connections whose signaling handler was discarded", "direction"),
		connectionsReaped: counter("connections_reaped_total",
			"Total number of idle connections closed after keep-alive was withdrawn"),
		substreamsNegotiated: counterVec("substreams_negotiated_total",
			"Total number of signaling substreams negotiated", "direction"),
		substreamsFailed: counterVec("substreams_failed_total",
			"Total number of signaling substreams that failed", "direction", "code"),
		negotiationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_duration_seconds",
			Help:      "Histogram of outbound substream negotiation durations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		messagesSent: counterVec("messages_sent_total",
			"Total number of signaling messages written", "type"),
		messagesReceived: counterVec("messages_received_total",
			"Total number of signaling messages decoded", "type"),
		bytesSent: counterVec("bytes_sent_total",
			"Total number of framed bytes written", "type"),
		bytesReceived: counterVec("bytes_received_total",
			"Total number of framed bytes decoded", "type"),
		messagesDropped: counterVec("messages_dropped_total",
			"Total number of outbound messages discarded before being written", "reason"),
		outboundQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_depth",
			Help:      "Outbound queue length of the most recently changed handler",
		}),
		backpressureEngaged: counter("backpressure_engaged_total",
			"Total number of times the command backlog reached its high watermark"),
		eventsEmitted: counterVec("events_emitted_total",
			"Total number of events delivered to the application", "kind"),
		eventsDropped: counter("events_dropped_total",
			"Total number of events dropped because the event buffer was full"),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.connectionsOpened,
			m.connectionsClosed,
			m.connectionsReaped,
			m.substreamsNegotiated,
			m.substreamsFailed,
			m.negotiationDuration,
			m.messagesSent,
			m.messagesReceived,
			m.bytesSent,
			m.bytesReceived,
			m.messagesDropped,
			m.outboundQueueDepth,
			m.backpressureEngaged,
			m.eventsEmitted,
			m.eventsDropped,
		)
	}

	return m
}

// ConnectionOpened implements sigberry.Metrics.
func (m *Metrics) ConnectionOpened(direction string) {
	m.connectionsOpened.WithLabelValues(direction).Inc()
}

// ConnectionClosed implements sigberry.Metrics.
func (m *Metrics) ConnectionClosed(direction string) {
	m.connectionsClosed.WithLabelValues(direction).Inc()
}

// ConnectionReaped implements sigberry.Metrics.
func (m *Metrics) ConnectionReaped() {
	m.connectionsReaped.Inc()
}

// SubstreamNegotiated implements sigberry.Metrics.
func (m *Metrics) SubstreamNegotiated(direction string) {
	m.substreamsNegotiated.WithLabelValues(direction).Inc()
}

// SubstreamFailed implements sigberry.Metrics.
func (m *Metrics) SubstreamFailed(direction string, code string) {
	m.substreamsFailed.WithLabelValues(direction, code).Inc()
}

// NegotiationDuration implements sigberry.Metrics.
func (m *Metrics) NegotiationDuration(seconds float64) {
	m.negotiationDuration.Observe(seconds)
}

// MessageSent implements sigberry.Metrics.
func (m *Metrics) MessageSent(msgType string, bytes int) {
	m.messagesSent.WithLabelValues(msgType).Inc()
	m.bytesSent.WithLabelValues(msgType).Add(float64(bytes))
}

// MessageReceived implements sigberry.Metrics.
func (m *Metrics) MessageReceived(msgType string, bytes int) {
	m.messagesReceived.WithLabelValues(msgType).Inc()
	m.bytesReceived.WithLabelValues(msgType).Add(float64(bytes))
}

// MessageDropped implements sigberry.Metrics.
func (m *Metrics) MessageDropped(reason string) {
	m.messagesDropped.WithLabelValues(reason).Inc()
}

// OutboundQueueDepth implements sigberry.Metrics.
func (m *Metrics) OutboundQueueDepth(depth int) {
	m.outboundQueueDepth.Set(float64(depth))
}

// BackpressureEngaged implements sigberry.Metrics.
func (m *Metrics) BackpressureEngaged() {
	m.backpressureEngaged.Inc()
}

// EventEmitted implements sigberry.Metrics.
func (m *Metrics) EventEmitted(kind string) {
	m.eventsEmitted.WithLabelValues(kind).Inc()
}

// EventDropped implements sigberry.Metrics.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}
