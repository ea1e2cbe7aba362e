package sigberry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sigotel "github.com/blockberries/sigberry/otel"
	"github.com/blockberries/sigberry/pkg/connection"
	"github.com/blockberries/sigberry/pkg/protocol"
	"github.com/blockberries/sigberry/pkg/substream"
	"github.com/blockberries/sigberry/pkg/swarm"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Node is the main entry point for WebRTC signaling over libp2p.
// It owns a libp2p host and the swarm that runs the signaling protocol
// on every connection of that host.
//
// All public methods are thread-safe.
type Node struct {
	config *Config

	// Core components
	host     *protocol.Host
	swarm    *swarm.Swarm
	denylist *protocol.Denylist
	tracer   *sigotel.Tracer

	// Lifecycle
	started bool
	stopped bool
	startMu sync.Mutex
}

// New creates a new node with the given configuration.
// The node is not started until Start() is called.
func New(cfg *Config) (*Node, error) {
	// Apply defaults first so Validate sees the effective values.
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	denylist := cfg.Denylist
	if denylist == nil {
		denylist = protocol.NewDenylist()
	}

	hostConfig := protocol.HostConfig{
		PrivateKey:       cfg.PrivateKey,
		ListenAddrs:      cfg.ListenAddrs,
		Gater:            protocol.NewConnectionGater(denylist),
		ConnMgrLowWater:  cfg.ConnMgrLowWater,
		ConnMgrHighWater: cfg.ConnMgrHighWater,
		EnableNAT:        cfg.EnableNAT,
	}

	h, err := protocol.NewHost(context.Background(), hostConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	tracer := sigotel.NewTracer(cfg.TracerProvider)

	idle := cfg.IdleTimeout
	if idle < 0 {
		idle = 0
	}

	sw := swarm.New(h.LibP2PHost(), swarm.Config{
		Handler: connection.Options{
			MaxOutboundQueue: cfg.MaxOutboundQueue,
			Substream: substream.Options{
				MaxFrameSize:   cfg.MaxFrameSize,
				ReadBufferSize: cfg.ReadBufferSize,
			},
		},
		EventBufferSize:    cfg.EventBufferSize,
		HighWatermark:      cfg.CommandHighWatermark,
		LowWatermark:       cfg.CommandLowWatermark,
		NegotiationTimeout: cfg.NegotiationTimeout,
		IdleTimeout:        idle,
		Logger:             cfg.Logger,
		Metrics:            cfg.Metrics,
		Tracer:             tracer,
	})

	return &Node{
		config:   cfg,
		host:     h,
		swarm:    sw,
		denylist: denylist,
		tracer:   tracer,
	}, nil
}

// Start starts the node and begins serving the signaling protocol.
// This must be called before the node can send or receive signaling messages.
func (n *Node) Start() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()

	if n.stopped {
		return ErrNodeStopped
	}
	if n.started {
		return ErrNodeAlreadyStarted
	}

	if err := n.swarm.Start(); err != nil {
		return fmt.Errorf("failed to start swarm: %w", err)
	}
	n.started = true

	n.config.Logger.Info("node started", "peer", n.host.ID(), "addrs", n.host.Addrs())
	return nil
}

// Stop shuts down the node and releases all resources.
// It closes all connections, stops all goroutines, and closes the events
// channel. A stopped node cannot be restarted.
func (n *Node) Stop() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()

	if !n.started {
		return ErrNodeNotStarted
	}
	if n.stopped {
		return ErrNodeStopped
	}
	n.stopped = true

	// Shutdown components in reverse order of initialization
	if err := n.swarm.Stop(); err != nil {
		return fmt.Errorf("failed to stop swarm: %w", err)
	}
	if err := n.host.Close(); err != nil {
		return fmt.Errorf("failed to close host: %w", err)
	}

	n.config.Logger.Info("node stopped", "peer", n.host.ID())
	return nil
}

// PeerID returns the local peer ID.
func (n *Node) PeerID() peer.ID {
	return n.host.ID()
}

// Addrs returns the multiaddresses the node is listening on.
func (n *Node) Addrs() []multiaddr.Multiaddr {
	return n.host.Addrs()
}

// AddrInfo returns the node's peer ID and addresses, ready to be passed
// to another node's Connect.
func (n *Node) AddrInfo() peer.AddrInfo {
	return n.host.AddrInfo()
}

// Connect dials a peer. Once connected, either side may send signaling
// messages to the other.
func (n *Node) Connect(ctx context.Context, info peer.AddrInfo) error {
	if err := n.checkRunning(); err != nil {
		return err
	}

	ctx, span := n.tracer.StartConnect(ctx, info.ID)
	err := n.host.Connect(ctx, info)
	n.tracer.EndSpan(span, err)
	if err != nil {
		return err
	}

	n.config.Logger.Debug("connected", "peer", info.ID)
	return nil
}

// Disconnect closes every connection to a peer. Messages still queued for
// the peer are discarded.
func (n *Node) Disconnect(peerID peer.ID) error {
	if err := n.checkRunning(); err != nil {
		return err
	}

	_, span := n.tracer.StartDisconnect(context.Background(), peerID)
	err := n.host.Disconnect(peerID)
	n.tracer.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("failed to disconnect from %s: %w", peerID, err)
	}
	return nil
}

// IsConnected reports whether the host has a connection to the peer.
func (n *Node) IsConnected(peerID peer.ID) bool {
	return n.host.IsConnected(peerID)
}

// DenyPeer refuses all future connections to peerID and closes the
// current ones.
func (n *Node) DenyPeer(peerID peer.ID) error {
	n.denylist.Deny(peerID)
	if n.host.IsConnected(peerID) {
		if err := n.host.Disconnect(peerID); err != nil {
			return fmt.Errorf("failed to disconnect from %s: %w", peerID, err)
		}
	}
	return nil
}

// AllowPeer removes peerID from the denylist.
func (n *Node) AllowPeer(peerID peer.ID) {
	n.denylist.Allow(peerID)
}

// IsDenied reports whether peerID is on the denylist.
func (n *Node) IsDenied(peerID peer.ID) bool {
	return n.denylist.IsDenied(peerID)
}

// SendOffer sends an SDP offer to a connected peer.
//
// The offer is queued on the peer's most recent connection and written once
// the outbound signaling stream is negotiated. A nil error means the offer
// was queued, not that it was delivered. SendOffer blocks only while the
// node's command backlog is saturated, and returns early if ctx ends.
func (n *Node) SendOffer(ctx context.Context, peerID peer.ID, sdp string) error {
	if err := n.checkSend(sdp); err != nil {
		return err
	}
	return n.translate(n.swarm.SendOffer(ctx, peerID, sdp))
}

// SendAnswer sends an SDP answer to a connected peer.
// Delivery semantics are the same as SendOffer.
func (n *Node) SendAnswer(ctx context.Context, peerID peer.ID, sdp string) error {
	if err := n.checkSend(sdp); err != nil {
		return err
	}
	return n.translate(n.swarm.SendAnswer(ctx, peerID, sdp))
}

// SendIceCandidate sends one ICE candidate to a connected peer.
// Delivery semantics are the same as SendOffer.
func (n *Node) SendIceCandidate(ctx context.Context, peerID peer.ID, candidate string) error {
	if err := n.checkSend(candidate); err != nil {
		return err
	}
	return n.translate(n.swarm.SendIceCandidate(ctx, peerID, candidate))
}

// Events returns a channel that receives signaling events: offers,
// answers and candidates from peers, and signaling errors. Events from one
// connection arrive in order. The channel is closed when the node stops.
//
// The application must consume events promptly. When the buffer is full,
// signaling errors are held and delivered in order as room frees up, while
// other events are dropped.
func (n *Node) Events() <-chan Event {
	return n.swarm.Events()
}

func (n *Node) checkSend(payload string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return ValidatePayload(payload, n.config.MaxPayloadSize)
}

func (n *Node) checkRunning() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()

	if n.stopped {
		return ErrNodeStopped
	}
	if !n.started {
		return ErrNodeNotStarted
	}
	return nil
}

// translate maps swarm lifecycle errors to the node's sentinels.
func (n *Node) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, swarm.ErrNotRunning):
		return ErrNodeNotStarted
	case errors.Is(err, swarm.ErrClosed):
		return ErrNodeStopped
	default:
		return err
	}
}
