// Package swarm drives the signaling behaviour over a libp2p host.
//
// A Swarm runs one actor goroutine that owns the Behaviour and every
// connection Handler. Application calls, connection notifications, inbound
// streams and negotiation outcomes are all turned into functions executed
// on that goroutine, after which the actor polls the handlers. Transport
// goroutines only move bytes and wake the actor.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blockberries/sigberry/internal/eventdispatch"
	"github.com/blockberries/sigberry/internal/flow"
	"github.com/blockberries/sigberry/internal/observability"
	sigotel "github.com/blockberries/sigberry/otel"
	"github.com/blockberries/sigberry/pkg/behaviour"
	"github.com/blockberries/sigberry/pkg/connection"
	"github.com/blockberries/sigberry/pkg/protocol"
	"github.com/blockberries/sigberry/pkg/wire"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	msmux "github.com/multiformats/go-multistream"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultEventBufferSize    = 1000
	DefaultNegotiationTimeout = 10 * time.Second
)

var (
	// ErrNotRunning is returned when the swarm has not been started.
	ErrNotRunning = errors.New("swarm not running")

	// ErrAlreadyRunning is returned by Start on a running swarm.
	ErrAlreadyRunning = errors.New("swarm already running")

	// ErrClosed is returned once the swarm has been stopped.
	ErrClosed = errors.New("swarm closed")
)

// Config configures a Swarm.
type Config struct {
	// Handler configures every connection handler. Logger and Metrics
	// default to the swarm's.
	Handler connection.Options

	// EventBufferSize is the capacity of the application event channel.
	EventBufferSize int

	// HighWatermark and LowWatermark bound the actor's command backlog.
	HighWatermark int
	LowWatermark  int

	// NegotiationTimeout bounds one outbound protocol negotiation.
	NegotiationTimeout time.Duration

	// IdleTimeout closes connections whose handler no longer needs them
	// after this long without activity. Zero disables reaping.
	IdleTimeout time.Duration

	Logger  observability.Logger
	Metrics observability.Metrics
	Tracer  *sigotel.Tracer
}

func (c *Config) applyDefaults() {
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	if c.HighWatermark <= 0 {
		c.HighWatermark = flow.DefaultHighWatermark
	}
	if c.LowWatermark <= 0 || c.LowWatermark >= c.HighWatermark {
		c.LowWatermark = c.HighWatermark / 8
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	c.Logger = observability.OrNop(c.Logger)
	c.Metrics = observability.MetricsOrNop(c.Metrics)
	if c.Tracer == nil {
		c.Tracer = sigotel.NewTracer(nil)
	}
	if c.Handler.Logger == nil {
		c.Handler.Logger = c.Logger
	}
	if c.Handler.Metrics == nil {
		c.Handler.Metrics = c.Metrics
	}
}

// connEntry is the actor's record of one libp2p connection.
type connEntry struct {
	conn      network.Conn
	peer      peer.ID
	direction string
	streams   []*pumpedStream
}

// ConnectionSnapshot describes one connection and its handler.
type ConnectionSnapshot struct {
	connection.Snapshot
	Direction  string
	RemoteAddr multiaddr.Multiaddr
}

// Swarm is the host driver for the signaling protocol.
type Swarm struct {
	host   host.Host
	config Config
	logger observability.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the actor goroutine.
	behaviour *behaviour.Behaviour
	conns     map[string]*connEntry

	cmds     chan func()
	wake     chan struct{}
	inboxMu  sync.Mutex
	inbox    []func()
	flow     *flow.Controller
	events   *eventdispatch.Dispatcher[behaviour.Event]
	notifiee *network.NotifyBundle

	mu      sync.Mutex
	started bool
	stopped bool

	actorDone chan struct{}
	workers   sync.WaitGroup
}

// New creates a swarm over h. It does nothing until Start is called.
func New(h host.Host, cfg Config) *Swarm {
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Swarm{
		host:      h,
		config:    cfg,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
		behaviour: behaviour.New(cfg.Logger),
		conns:     make(map[string]*connEntry),
		cmds:      make(chan func(), cfg.HighWatermark),
		wake:      make(chan struct{}, 1),
		flow:      flow.NewController(cfg.HighWatermark, cfg.LowWatermark),
		events:    eventdispatch.NewDispatcher[behaviour.Event](cfg.EventBufferSize),
		actorDone: make(chan struct{}),
	}

	s.flow.OnBlocked(func(pending int) {
		cfg.Metrics.BackpressureEngaged()
		s.logger.Warn("command backlog saturated", "pending", pending)
	})
	s.events.OnDrop(func(e behaviour.Event) {
		cfg.Metrics.EventDropped()
		s.logger.Warn("event dropped", "kind", e.Kind, "peer", e.PeerID)
	})
	s.events.KeepOnOverflow(behaviour.Event.IsError)

	s.notifiee = &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			s.post(func() { s.addConn(c) })
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			s.post(func() { s.removeConn(c) })
		},
	}
	return s
}

// Start registers the signaling protocol on the host and starts the actor.
func (s *Swarm) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyRunning
	}
	s.started = true

	s.host.SetStreamHandler(protocol.SignalingProtocolID, s.handleStream)
	s.host.Network().Notify(s.notifiee)

	// Connections established before Start get handlers too.
	for _, c := range s.host.Network().Conns() {
		c := c
		s.post(func() { s.addConn(c) })
	}

	go s.run()
	s.logger.Info("swarm started", "peer", s.host.ID(), "protocol", protocol.SignalingProtocolID)
	return nil
}

// Stop unregisters the protocol, closes every handler and waits for all
// goroutines owned by the swarm.
func (s *Swarm) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if started {
		s.host.RemoveStreamHandler(protocol.SignalingProtocolID)
		s.host.Network().StopNotify(s.notifiee)
	}

	s.cancel()
	s.flow.Close()
	if started {
		<-s.actorDone
	}
	s.workers.Wait()
	// Outcomes posted after the actor exited only need their streams reset.
	s.drainInbox()
	s.events.Close()

	if started {
		s.logger.Info("swarm stopped", "peer", s.host.ID())
	}
	return nil
}

// Events returns the channel application events are delivered on. It is
// closed by Stop.
func (s *Swarm) Events() <-chan behaviour.Event {
	return s.events.Events()
}

// EventStats returns the number of delivered and dropped events.
func (s *Swarm) EventStats() (emitted, dropped uint64) {
	return s.events.Stats()
}

// Backlog returns the number of commands waiting for the actor.
func (s *Swarm) Backlog() int {
	return s.flow.Pending()
}

// Saturated reports whether senders are currently held back by the
// command backlog.
func (s *Swarm) Saturated() bool {
	return s.flow.IsBlocked()
}

// Running reports whether the actor is running.
func (s *Swarm) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

// SendOffer queues an SDP offer for p.
func (s *Swarm) SendOffer(ctx context.Context, p peer.ID, sdp string) error {
	return s.send(ctx, p, wire.TypeSdpOffer, sdp, s.behaviour.SendOffer)
}

// SendAnswer queues an SDP answer for p.
func (s *Swarm) SendAnswer(ctx context.Context, p peer.ID, sdp string) error {
	return s.send(ctx, p, wire.TypeSdpAnswer, sdp, s.behaviour.SendAnswer)
}

// SendIceCandidate queues an ICE candidate for p.
func (s *Swarm) SendIceCandidate(ctx context.Context, p peer.ID, candidate string) error {
	return s.send(ctx, p, wire.TypeIceCandidate, candidate, s.behaviour.SendIceCandidate)
}

func (s *Swarm) send(ctx context.Context, p peer.ID, t wire.Type, payload string, fn func(peer.ID, string) error) error {
	ctx, span := s.config.Tracer.StartSend(ctx, p, t.String(), len(payload))
	err := s.call(ctx, func() error {
		return fn(p, payload)
	})
	s.config.Tracer.EndSpan(span, err)
	return err
}

// Connections returns a snapshot of every connection with a handler.
func (s *Swarm) Connections(ctx context.Context) ([]ConnectionSnapshot, error) {
	var out []ConnectionSnapshot
	err := s.call(ctx, func() error {
		out = s.snapshots("")
		return nil
	})
	return out, err
}

// PeerConnections returns a snapshot of p's connections.
func (s *Swarm) PeerConnections(ctx context.Context, p peer.ID) ([]ConnectionSnapshot, error) {
	var out []ConnectionSnapshot
	err := s.call(ctx, func() error {
		out = s.snapshots(p)
		return nil
	})
	return out, err
}

func (s *Swarm) snapshots(p peer.ID) []ConnectionSnapshot {
	var out []ConnectionSnapshot
	for _, e := range s.conns {
		if p != "" && e.peer != p {
			continue
		}
		h, ok := s.behaviour.Handler(e.peer, e.conn.ID())
		if !ok {
			continue
		}
		out = append(out, ConnectionSnapshot{
			Snapshot:   h.Snapshot(),
			Direction:  e.direction,
			RemoteAddr: e.conn.RemoteMultiaddr(),
		})
	}
	return out
}

// call runs fn on the actor and waits for its result. It blocks while the
// command backlog is saturated.
func (s *Swarm) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Running() {
		if s.isStopped() {
			return ErrClosed
		}
		return ErrNotRunning
	}

	if err := s.flow.Acquire(ctx); err != nil {
		if errors.Is(err, flow.ErrClosed) {
			return ErrClosed
		}
		return err
	}

	reply := make(chan error, 1)
	cmd := func() {
		defer s.flow.Release()
		reply <- fn()
	}

	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		s.flow.Release()
		return ctx.Err()
	case <-s.ctx.Done():
		s.flow.Release()
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.actorDone:
		return ErrClosed
	}
}

func (s *Swarm) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// post queues fn for the actor without blocking.
func (s *Swarm) post(fn func()) {
	s.inboxMu.Lock()
	s.inbox = append(s.inbox, fn)
	s.inboxMu.Unlock()
	s.wakeUp()
}

func (s *Swarm) wakeUp() {
	signal(s.wake)
}

func (s *Swarm) run() {
	defer close(s.actorDone)
	defer s.shutdown()

	var reap <-chan time.Time
	if s.config.IdleTimeout > 0 {
		ticker := time.NewTicker(s.config.IdleTimeout)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmds:
			// Connections reported before the call must be visible to it.
			s.drainInbox()
			cmd()
		case <-s.wake:
		case <-reap:
			s.reapIdle()
		}

		s.drainInbox()
		s.progress()
	}
}

func (s *Swarm) drainInbox() {
	for {
		s.inboxMu.Lock()
		items := s.inbox
		s.inbox = nil
		s.inboxMu.Unlock()

		if len(items) == 0 {
			return
		}
		for _, fn := range items {
			fn()
		}
	}
}

// progress polls every handler until quiet and delivers the resulting
// events to the application.
func (s *Swarm) progress() {
	for s.behaviour.PollHandlers() > 0 {
	}
	for {
		e, ok := s.behaviour.Poll()
		if !ok {
			return
		}
		s.deliver(e)
	}
}

func (s *Swarm) deliver(e behaviour.Event) {
	if e.IsError() {
		s.logger.Warn("signaling error", "peer", e.PeerID, "conn", e.ConnID, "error", e.Err)
	} else {
		_, span := s.config.Tracer.StartReceive(s.ctx, e.PeerID, e.Kind.String(), len(e.Payload))
		span.End()
	}
	if s.events.Emit(e) {
		s.config.Metrics.EventEmitted(e.Kind.String())
	}
}

func (s *Swarm) addConn(c network.Conn) {
	if _, ok := s.conns[c.ID()]; ok {
		return
	}
	if s.ctx.Err() != nil || c.IsClosed() {
		return
	}

	p := c.RemotePeer()
	entry := &connEntry{
		conn:      c,
		peer:      p,
		direction: directionString(c.Stat().Direction),
	}
	h := connection.NewHandler(p, c.ID(), connection.RequesterFunc(func() {
		s.negotiate(entry)
	}), s.config.Handler)

	if err := s.behaviour.AddConnection(p, c.ID(), h); err != nil {
		s.logger.Error("failed to add connection", "peer", p, "conn", c.ID(), "error", err)
		return
	}
	s.conns[c.ID()] = entry
	s.config.Metrics.ConnectionOpened(entry.direction)
	s.logger.Debug("connection opened", "peer", p, "conn", c.ID(), "direction", entry.direction)
}

func (s *Swarm) removeConn(c network.Conn) {
	entry, ok := s.conns[c.ID()]
	if !ok {
		return
	}
	delete(s.conns, c.ID())

	s.behaviour.RemoveConnection(entry.peer, c.ID())
	s.abortStreams(entry)
	s.config.Metrics.ConnectionClosed(entry.direction)
	s.logger.Debug("connection closed", "peer", entry.peer, "conn", c.ID())
}

// abortStreams stops the pumps of a connection's streams in the background.
func (s *Swarm) abortStreams(entry *connEntry) {
	streams := entry.streams
	entry.streams = nil
	for _, ps := range streams {
		ps := ps
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			ps.abort()
		}()
	}
}

func (s *Swarm) track(entry *connEntry, st network.Stream) *pumpedStream {
	live := entry.streams[:0]
	for _, old := range entry.streams {
		if !old.isFinished() {
			live = append(live, old)
		}
	}
	ps := newPumpedStream(st, 2*s.maxFrameSize(), s.wakeUp)
	entry.streams = append(live, ps)
	return ps
}

func (s *Swarm) maxFrameSize() int {
	if n := s.config.Handler.Substream.MaxFrameSize; n > 0 {
		return n
	}
	return wire.DefaultMaxFrameSize
}

// handleStream receives inbound signaling streams already negotiated by the
// host.
func (s *Swarm) handleStream(st network.Stream) {
	s.post(func() {
		c := st.Conn()
		s.addConn(c)

		entry, ok := s.conns[c.ID()]
		if !ok {
			_ = st.Reset()
			return
		}
		h, ok := s.behaviour.Handler(entry.peer, c.ID())
		if !ok {
			_ = st.Reset()
			return
		}
		h.OnConnectionEvent(connection.FullyNegotiatedInbound{Stream: s.track(entry, st)})
	})
}

// negotiate opens and negotiates an outbound stream on entry's connection.
// It runs on the actor; the blocking work happens on a worker goroutine.
func (s *Swarm) negotiate(entry *connEntry) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()

		st, err := s.openStream(entry)
		if err == nil && s.ctx.Err() != nil {
			_ = st.Reset()
			return
		}

		s.post(func() {
			h, ok := s.behaviour.Handler(entry.peer, entry.conn.ID())
			if !ok {
				if st != nil {
					_ = st.Reset()
				}
				return
			}
			if err != nil {
				h.OnConnectionEvent(connection.DialUpgradeError{Err: err})
				return
			}
			h.OnConnectionEvent(connection.FullyNegotiatedOutbound{Stream: s.track(entry, st)})
		})
	}()
}

func (s *Swarm) openStream(entry *connEntry) (network.Stream, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.NegotiationTimeout)
	defer cancel()

	ctx, span := s.config.Tracer.StartNegotiate(ctx, entry.peer, entry.conn.ID(), "outbound")
	st, err := s.selectProtocol(ctx, entry.conn)
	s.config.Tracer.RecordNegotiationResult(span, err)
	span.End()

	if err != nil {
		s.logger.Debug("outbound negotiation failed", "peer", entry.peer, "conn", entry.conn.ID(), "error", err)
		return nil, err
	}
	return st, nil
}

func (s *Swarm) selectProtocol(ctx context.Context, c network.Conn) (network.Stream, error) {
	st, err := c.NewStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = st.Reset() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(deadline)
	}
	if err := msmux.SelectProtoOrFail(protocol.SignalingProtocolID, st); err != nil {
		_ = st.Reset()
		return nil, fmt.Errorf("select %s: %w", protocol.SignalingProtocolID, err)
	}
	_ = st.SetDeadline(time.Time{})

	if err := st.SetProtocol(protocol.SignalingProtocolID); err != nil {
		_ = st.Reset()
		return nil, fmt.Errorf("set protocol: %w", err)
	}
	return st, nil
}

// reapIdle closes connections the signaling protocol no longer keeps alive.
func (s *Swarm) reapIdle() {
	now := time.Now()
	for _, e := range s.conns {
		h, ok := s.behaviour.Handler(e.peer, e.conn.ID())
		if !ok || h.ConnectionKeepAlive() {
			continue
		}
		if now.Sub(h.LastActivity()) < s.config.IdleTimeout {
			continue
		}

		s.logger.Info("closing idle connection", "peer", e.peer, "conn", e.conn.ID())
		s.config.Metrics.ConnectionReaped()
		c := e.conn
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			_ = c.Close()
		}()
	}
}

func (s *Swarm) shutdown() {
	s.drainInbox()
	s.behaviour.Close()
	for id, e := range s.conns {
		s.abortStreams(e)
		delete(s.conns, id)
	}
}

func directionString(d network.Direction) string {
	return strings.ToLower(d.String())
}
