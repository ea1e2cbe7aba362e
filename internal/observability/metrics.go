package observability

// Metrics defines the metrics collection interface.
// It is designed to be compatible with Prometheus and other metrics systems.
//
// Implementations must be safe for concurrent use.
//
// Metric naming convention:
//   - Counters: <name>_total (e.g., messages_sent_total)
//   - Histograms: <name>_seconds (e.g., negotiation_duration_seconds)
//   - Gauges: <name> (e.g., outbound_queue_depth)
type Metrics interface {
	// Connection metrics

	// ConnectionOpened increments when a connection gets a handler.
	// Labels: direction (inbound, outbound)
	ConnectionOpened(direction string)

	// ConnectionClosed increments when a connection's handler is discarded.
	// Labels: direction (inbound, outbound)
	ConnectionClosed(direction string)

	// ConnectionReaped increments when the idle reaper closes a connection
	// whose handler withdrew its keep-alive.
	ConnectionReaped()

	// Substream metrics

	// SubstreamNegotiated records a successful substream negotiation.
	// Labels: direction (inbound, outbound)
	SubstreamNegotiated(direction string)

	// SubstreamFailed records a terminal substream failure.
	// Labels: direction (inbound, outbound), code (IoError, UpgradeError, ...)
	SubstreamFailed(direction string, code string)

	// NegotiationDuration records how long an outbound negotiation took.
	NegotiationDuration(seconds float64)

	// Message metrics

	// MessageSent records a message fully written to a substream.
	// Labels: type (SdpOffer, SdpAnswer, IceCandidate)
	MessageSent(msgType string, bytes int)

	// MessageReceived records a message decoded from a substream.
	// Labels: type (SdpOffer, SdpAnswer, IceCandidate)
	MessageReceived(msgType string, bytes int)

	// MessageDropped records a message discarded before it was written.
	// Labels: reason (queue_full, substream_failed, connection_closed)
	MessageDropped(reason string)

	// OutboundQueueDepth records the outbound queue length of a handler
	// after a change.
	OutboundQueueDepth(depth int)

	// BackpressureEngaged increments when the node's command backlog
	// reaches its high watermark and senders start blocking.
	BackpressureEngaged()

	// Event metrics

	// EventEmitted records an application event being delivered.
	// Labels: kind (the event kind)
	EventEmitted(kind string)

	// EventDropped records an event dropped because the consumer is slow.
	EventDropped()
}

// NopMetrics is a no-op metrics implementation that discards all metrics.
// It is the default when no metrics collector is configured.
type NopMetrics struct{}

// Ensure NopMetrics implements Metrics.
var _ Metrics = NopMetrics{}

// ConnectionOpened implements Metrics.ConnectionOpened (no-op).
func (NopMetrics) ConnectionOpened(direction string) {}

// ConnectionClosed implements Metrics.ConnectionClosed (no-op).
func (NopMetrics) ConnectionClosed(direction string) {}

// ConnectionReaped implements Metrics.ConnectionReaped (no-op).
func (NopMetrics) ConnectionReaped() {}

// SubstreamNegotiated implements Metrics.SubstreamNegotiated (no-op).
func (NopMetrics) SubstreamNegotiated(direction string) {}

// SubstreamFailed implements Metrics.SubstreamFailed (no-op).
func (NopMetrics) SubstreamFailed(direction string, code string) {}

// NegotiationDuration implements Metrics.NegotiationDuration (no-op).
func (NopMetrics) NegotiationDuration(seconds float64) {}

// MessageSent implements Metrics.MessageSent (no-op).
func (NopMetrics) MessageSent(msgType string, bytes int) {}

// MessageReceived implements Metrics.MessageReceived (no-op).
func (NopMetrics) MessageReceived(msgType string, bytes int) {}

// MessageDropped implements Metrics.MessageDropped (no-op).
func (NopMetrics) MessageDropped(reason string) {}

// OutboundQueueDepth implements Metrics.OutboundQueueDepth (no-op).
func (NopMetrics) OutboundQueueDepth(depth int) {}

// BackpressureEngaged implements Metrics.BackpressureEngaged (no-op).
func (NopMetrics) BackpressureEngaged() {}

// EventEmitted implements Metrics.EventEmitted (no-op).
func (NopMetrics) EventEmitted(kind string) {}

// EventDropped implements Metrics.EventDropped (no-op).
func (NopMetrics) EventDropped() {}

// MetricsOrNop returns m, or NopMetrics when m is nil.
func MetricsOrNop(m Metrics) Metrics {
	if m == nil {
		return NopMetrics{}
	}
	return m
}
