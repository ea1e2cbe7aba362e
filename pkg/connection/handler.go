// Package connection implements the per-connection signaling handler. A
// Handler owns one inbound and one outbound substream, the queue of
// messages waiting to be written and the queue of decoded events waiting to
// be polled.
//
// A Handler is driven by a single goroutine: the driver delivers transport
// notifications through OnConnectionEvent, the behaviour queues messages
// through OnBehaviourEvent, and the driver calls Poll whenever stream state
// may have changed. Handler never blocks and never starts goroutines.
package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/blockberries/sigberry/internal/observability"
	"github.com/blockberries/sigberry/pkg/sigerr"
	"github.com/blockberries/sigberry/pkg/substream"
	"github.com/blockberries/sigberry/pkg/wire"
	"github.com/libp2p/go-libp2p/core/peer"
)

// DefaultMaxOutboundQueue is the default bound on queued outbound messages.
const DefaultMaxOutboundQueue = 256

// Drop reasons reported to Metrics.MessageDropped.
const (
	DropQueueFull        = "queue_full"
	DropSubstreamFailed  = "substream_failed"
	DropConnectionClosed = "connection_closed"
)

var (
	// ErrQueueFull is returned when the outbound queue is at its bound.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrHandlerClosed is returned when a message is queued on a closed
	// handler.
	ErrHandlerClosed = errors.New("handler closed")
)

// SubstreamRequester asks the transport to open and negotiate a new
// outbound substream on the handler's connection. The outcome is reported
// later as FullyNegotiatedOutbound or DialUpgradeError.
type SubstreamRequester interface {
	RequestOutboundSubstream()
}

// RequesterFunc adapts a function to SubstreamRequester.
type RequesterFunc func()

// RequestOutboundSubstream calls f.
func (f RequesterFunc) RequestOutboundSubstream() { f() }

// Options configures a Handler.
type Options struct {
	// MaxOutboundQueue bounds the outbound queue. Zero or negative means
	// unbounded.
	MaxOutboundQueue int

	// Substream configures both substreams.
	Substream substream.Options

	Logger  observability.Logger
	Metrics observability.Metrics

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Handler is the signaling state machine for one connection.
// It is NOT safe for concurrent use.
type Handler struct {
	peer      peer.ID
	connID    string
	requester SubstreamRequester

	maxQueue int
	logger   observability.Logger
	metrics  observability.Metrics
	now      func() time.Time

	inbound  *substream.Substream
	outbound *substream.Substream

	queue  []wire.Message
	events []Event

	keepAlive        bool
	closed           bool
	negotiationStart time.Time

	stats handlerStats
}

type handlerStats struct {
	established      time.Time
	lastActivity     time.Time
	messagesSent     uint64
	messagesReceived uint64
	messagesDropped  uint64
	bytesSent        uint64
	bytesReceived    uint64
	errors           uint64
	inboundStreams   uint64
	outboundStreams  uint64
}

// NewHandler creates a handler for one connection to peerID. The handler
// starts with both substreams idle and keep-alive set.
func NewHandler(peerID peer.ID, connID string, requester SubstreamRequester, opts Options) *Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	created := now()
	return &Handler{
		peer:      peerID,
		connID:    connID,
		requester: requester,
		maxQueue:  opts.MaxOutboundQueue,
		logger:    observability.OrNop(opts.Logger),
		metrics:   observability.MetricsOrNop(opts.Metrics),
		now:       now,
		inbound:   substream.New(substream.Inbound, opts.Substream),
		outbound:  substream.New(substream.Outbound, opts.Substream),
		keepAlive: true,
		stats: handlerStats{
			established:  created,
			lastActivity: created,
		},
	}
}

// PeerID returns the remote peer.
func (h *Handler) PeerID() peer.ID { return h.peer }

// ConnID returns the identifier of the connection the handler serves.
func (h *Handler) ConnID() string { return h.connID }

// ConnectionKeepAlive reports whether the connection should be kept open.
// It is false once the outbound substream failed, until a new message is
// queued.
func (h *Handler) ConnectionKeepAlive() bool { return h.keepAlive }

// LastActivity returns when the handler last made progress.
func (h *Handler) LastActivity() time.Time { return h.stats.lastActivity }

// OnBehaviourEvent queues m for delivery to the peer. If no outbound
// substream exists, or the previous one ended, a new one is requested.
func (h *Handler) OnBehaviourEvent(m wire.Message) error {
	if h.closed {
		return ErrHandlerClosed
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if h.maxQueue > 0 && len(h.queue) >= h.maxQueue {
		h.stats.messagesDropped++
		h.metrics.MessageDropped(DropQueueFull)
		return fmt.Errorf("%w: %d messages pending", ErrQueueFull, len(h.queue))
	}

	h.queue = append(h.queue, m)
	h.metrics.OutboundQueueDepth(len(h.queue))

	switch state := h.outbound.State(); {
	case state == substream.StateIdle:
		h.requestOutbound()
	case state.IsTerminal():
		h.logger.Debug("restarting outbound substream",
			"peer", h.peer, "conn", h.connID, "previous", state)
		h.outbound.Reset()
		h.keepAlive = true
		h.requestOutbound()
	}
	return nil
}

func (h *Handler) requestOutbound() {
	if err := h.outbound.BeginNegotiation(); err != nil {
		h.logger.Error("cannot negotiate outbound substream", "peer", h.peer, "error", err)
		return
	}
	h.negotiationStart = h.now()
	h.requester.RequestOutboundSubstream()
}

// OnConnectionEvent applies a transport notification.
func (h *Handler) OnConnectionEvent(evt ConnectionEvent) {
	if h.closed {
		h.discardStream(evt)
		return
	}

	switch e := evt.(type) {
	case FullyNegotiatedInbound:
		h.onInbound(e.Stream)
	case FullyNegotiatedOutbound:
		h.onOutbound(e.Stream)
	case DialUpgradeError:
		h.onDialUpgradeError(e.Err)
	case ListenUpgradeError:
		h.onListenUpgradeError(e.Err)
	case AddressChange:
		h.logger.Debug("remote address changed", "peer", h.peer, "conn", h.connID, "addr", e.Addr)
	default:
		h.logger.Warn("unknown connection event", "peer", h.peer, "event", fmt.Sprintf("%T", evt))
	}
}

// discardStream resets a stream handed to a closed handler.
func (h *Handler) discardStream(evt ConnectionEvent) {
	switch e := evt.(type) {
	case FullyNegotiatedInbound:
		_ = e.Stream.Reset() // Ignore error - handler is gone
	case FullyNegotiatedOutbound:
		_ = e.Stream.Reset() // Ignore error - handler is gone
	}
}

func (h *Handler) onInbound(stream substream.Stream) {
	if h.inbound.State() != substream.StateIdle {
		// A new inbound offer replaces whatever came before.
		h.logger.Debug("replacing inbound substream",
			"peer", h.peer, "conn", h.connID, "previous", h.inbound.State())
		h.inbound.Reset()
	}
	if err := h.inbound.BeginNegotiation(); err != nil {
		h.logger.Error("inbound substream in unexpected state", "peer", h.peer, "error", err)
		_ = stream.Reset()
		return
	}
	if err := h.inbound.Open(stream); err != nil {
		h.logger.Error("cannot open inbound substream", "peer", h.peer, "error", err)
		_ = stream.Reset()
		return
	}

	h.stats.inboundStreams++
	h.touch()
	h.metrics.SubstreamNegotiated(substream.Inbound.String())
	h.logger.Debug("inbound substream open", "peer", h.peer, "conn", h.connID)
}

func (h *Handler) onOutbound(stream substream.Stream) {
	if h.outbound.State() != substream.StateNegotiating {
		h.logger.Warn("unexpected outbound substream",
			"peer", h.peer, "conn", h.connID, "state", h.outbound.State())
		_ = stream.Reset()
		return
	}
	if err := h.outbound.Open(stream); err != nil {
		h.logger.Error("cannot open outbound substream", "peer", h.peer, "error", err)
		_ = stream.Reset()
		return
	}

	h.stats.outboundStreams++
	h.touch()
	h.metrics.SubstreamNegotiated(substream.Outbound.String())
	h.metrics.NegotiationDuration(h.now().Sub(h.negotiationStart).Seconds())
	h.logger.Debug("outbound substream open",
		"peer", h.peer, "conn", h.connID, "queued", len(h.queue))
}

func (h *Handler) onDialUpgradeError(cause error) {
	if h.outbound.State() != substream.StateNegotiating {
		h.logger.Debug("ignoring stale dial upgrade error", "peer", h.peer, "error", cause)
		return
	}
	h.outbound.Fail(sigerr.Upgrade("outbound negotiation failed", cause))
	h.outboundFailed()
}

func (h *Handler) onListenUpgradeError(cause error) {
	err := sigerr.Upgrade("inbound negotiation failed", cause)
	h.logger.Warn("inbound negotiation failed", "peer", h.peer, "conn", h.connID, "error", cause)

	// An already open inbound substream keeps working.
	if !h.inbound.IsOpen() {
		h.inbound.Reset()
		if h.inbound.BeginNegotiation() == nil {
			h.inbound.Fail(err)
		}
	}
	h.failed(substream.Inbound, err)
}

// outboundFailed handles a terminal outbound failure: keep-alive is
// withdrawn and every queued message is discarded.
func (h *Handler) outboundFailed() {
	err := h.outbound.Cause()
	h.keepAlive = false

	if n := len(h.queue); n > 0 {
		h.stats.messagesDropped += uint64(n)
		for i := 0; i < n; i++ {
			h.metrics.MessageDropped(DropSubstreamFailed)
		}
		h.queue = nil
		h.metrics.OutboundQueueDepth(0)
	}

	h.logger.Warn("outbound substream failed", "peer", h.peer, "conn", h.connID, "error", err)
	h.failed(substream.Outbound, err)
}

// failed records a terminal substream failure and queues its event.
func (h *Handler) failed(dir substream.Direction, err error) {
	h.stats.errors++
	code, _ := sigerr.CodeOf(err)
	h.metrics.SubstreamFailed(dir.String(), code.String())
	h.push(Event{Kind: EventSignalingError, Err: err, Direction: dir})
}

func (h *Handler) push(e Event) {
	e.Timestamp = h.now()
	h.events = append(h.events, e)
}

func (h *Handler) pop() Event {
	e := h.events[0]
	h.events[0] = Event{}
	h.events = h.events[1:]
	if len(h.events) == 0 {
		h.events = nil
	}
	return e
}

func (h *Handler) touch() {
	h.stats.lastActivity = h.now()
}

// Poll advances the handler and returns the next event, if any.
//
// Pending events are returned first, oldest first. Otherwise the handler
// writes queued messages until the outbound substream would block and
// reads every complete frame from the inbound substream, then returns the
// oldest event produced. The second result is false when there is nothing
// to report.
func (h *Handler) Poll() (Event, bool) {
	if h.closed {
		return Event{}, false
	}
	if len(h.events) > 0 {
		return h.pop(), true
	}

	h.progressWrite()
	h.progressRead()

	if len(h.events) > 0 {
		return h.pop(), true
	}
	return Event{}, false
}

func (h *Handler) progressWrite() {
	for h.outbound.IsOpen() && len(h.queue) > 0 {
		m := h.queue[0]
		done, err := h.outbound.WriteMessage(m)
		if err != nil {
			if h.outbound.State() == substream.StateErrored {
				h.outboundFailed()
				return
			}
			// The message itself could not be encoded.
			h.logger.Warn("dropping unencodable message", "peer", h.peer, "message", m, "error", err)
			h.stats.messagesDropped++
			h.metrics.MessageDropped(DropSubstreamFailed)
			h.dequeue()
			continue
		}
		if !done {
			return
		}

		size := wire.FrameSize(m)
		h.stats.messagesSent++
		h.stats.bytesSent += uint64(size)
		h.touch()
		h.metrics.MessageSent(m.Type.String(), size)
		h.dequeue()
	}
}

func (h *Handler) dequeue() {
	h.queue[0] = wire.Message{}
	h.queue = h.queue[1:]
	if len(h.queue) == 0 {
		h.queue = nil
	}
	h.metrics.OutboundQueueDepth(len(h.queue))
}

func (h *Handler) progressRead() {
	if !h.inbound.IsOpen() {
		return
	}

	msgs, err := h.inbound.ReadMessages()
	for _, m := range msgs {
		size := wire.FrameSize(m)
		h.stats.messagesReceived++
		h.stats.bytesReceived += uint64(size)
		h.metrics.MessageReceived(m.Type.String(), size)
		h.push(receivedEvent(m))
	}
	if len(msgs) > 0 {
		h.touch()
	}

	if err != nil {
		h.logger.Warn("inbound substream failed", "peer", h.peer, "conn", h.connID, "error", err)
		h.failed(substream.Inbound, err)
		return
	}
	if h.inbound.State() == substream.StateClosing {
		h.logger.Debug("inbound substream closed by peer", "peer", h.peer, "conn", h.connID)
	}
}

func receivedEvent(m wire.Message) Event {
	payload, _ := m.Payload()
	e := Event{Payload: payload, Direction: substream.Inbound}
	switch m.Type {
	case wire.TypeSdpOffer:
		e.Kind = EventSdpOffer
	case wire.TypeSdpAnswer:
		e.Kind = EventSdpAnswer
	case wire.TypeIceCandidate:
		e.Kind = EventIceCandidate
	}
	return e
}

// Close shuts both substreams and discards every queued message and
// pending event. The handler ignores all later input.
func (h *Handler) Close() {
	if h.closed {
		return
	}
	h.closed = true

	for _, s := range []*substream.Substream{h.inbound, h.outbound} {
		if s.IsOpen() {
			_ = s.Close() // Ignore error - connection is going away
		} else {
			s.Reset()
		}
	}

	if n := len(h.queue); n > 0 {
		h.stats.messagesDropped += uint64(n)
		for i := 0; i < n; i++ {
			h.metrics.MessageDropped(DropConnectionClosed)
		}
		h.metrics.OutboundQueueDepth(0)
	}
	h.queue = nil
	h.events = nil
}

// IsClosed reports whether Close was called.
func (h *Handler) IsClosed() bool { return h.closed }

// Snapshot is a read-only view of a handler's state.
type Snapshot struct {
	PeerID             peer.ID
	ConnID             string
	Inbound            substream.State
	Outbound           substream.State
	OutboundQueueDepth int
	PendingEvents      int
	KeepAlive          bool
	Closed             bool
	Established        time.Time
	LastActivity       time.Time
	MessagesSent       uint64
	MessagesReceived   uint64
	MessagesDropped    uint64
	BytesSent          uint64
	BytesReceived      uint64
	Errors             uint64
	InboundStreams     uint64
	OutboundStreams    uint64
}

// Snapshot returns the handler's current state.
func (h *Handler) Snapshot() Snapshot {
	return Snapshot{
		PeerID:             h.peer,
		ConnID:             h.connID,
		Inbound:            h.inbound.State(),
		Outbound:           h.outbound.State(),
		OutboundQueueDepth: len(h.queue),
		PendingEvents:      len(h.events),
		KeepAlive:          h.keepAlive,
		Closed:             h.closed,
		Established:        h.stats.established,
		LastActivity:       h.stats.lastActivity,
		MessagesSent:       h.stats.messagesSent,
		MessagesReceived:   h.stats.messagesReceived,
		MessagesDropped:    h.stats.messagesDropped,
		BytesSent:          h.stats.bytesSent,
		BytesReceived:      h.stats.bytesReceived,
		Errors:             h.stats.errors,
		InboundStreams:     h.stats.inboundStreams,
		OutboundStreams:    h.stats.outboundStreams,
	}
}
