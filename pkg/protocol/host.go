package protocol

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"
)

// HostConfig describes the libp2p host a signaling node runs on.
type HostConfig struct {
	// PrivateKey is the node identity.
	PrivateKey ed25519.PrivateKey

	// ListenAddrs are the transport addresses to listen on.
	ListenAddrs []multiaddr.Multiaddr

	// Gater refuses connections to denied peers. Optional.
	Gater *ConnectionGater

	// ConnMgrLowWater and ConnMgrHighWater bound the number of
	// connections kept by the libp2p connection manager.
	ConnMgrLowWater  int
	ConnMgrHighWater int

	// EnableNAT turns on NAT port mapping, relaying and hole punching.
	EnableNAT bool
}

// Host is the libp2p host of a signaling node.
type Host struct {
	host host.Host
}

// NewHost creates and starts a libp2p host.
func NewHost(_ context.Context, cfg HostConfig) (*Host, error) {
	opts, err := hostOptions(cfg)
	if err != nil {
		return nil, err
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	return &Host{host: h}, nil
}

func hostOptions(cfg HostConfig) ([]libp2p.Option, error) {
	key, err := crypto.UnmarshalEd25519PrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}

	// Grace period zero: the idle reaper decides when signaling connections
	// are no longer needed.
	cm, err := connmgr.NewConnManager(cfg.ConnMgrLowWater, cfg.ConnMgrHighWater, connmgr.WithGracePeriod(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.ListenAddrs(cfg.ListenAddrs...),
		libp2p.ConnectionManager(cm),
	}
	if cfg.Gater != nil {
		opts = append(opts, libp2p.ConnectionGater(cfg.Gater))
	}
	if cfg.EnableNAT {
		opts = append(opts, libp2p.NATPortMap(), libp2p.EnableRelay(), libp2p.EnableHolePunching())
	}
	return opts, nil
}

// ID returns the local peer ID.
func (h *Host) ID() peer.ID {
	return h.host.ID()
}

// Addrs returns the listen addresses.
func (h *Host) Addrs() []multiaddr.Multiaddr {
	return h.host.Addrs()
}

// AddrInfo returns the ID and addresses other nodes dial.
func (h *Host) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: h.host.ID(), Addrs: h.host.Addrs()}
}

// Connect dials pi. Its addresses are kept for the life of the host.
func (h *Host) Connect(ctx context.Context, pi peer.AddrInfo) error {
	h.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
	if err := h.host.Connect(ctx, pi); err != nil {
		return fmt.Errorf("failed to connect to peer %s: %w", pi.ID, err)
	}
	return nil
}

// Disconnect closes every connection to p.
func (h *Host) Disconnect(p peer.ID) error {
	return h.host.Network().ClosePeer(p)
}

// IsConnected reports whether at least one connection to p is open.
func (h *Host) IsConnected(p peer.ID) bool {
	return h.host.Network().Connectedness(p) == network.Connected
}

// ConnectedPeers returns every peer with an open connection.
func (h *Host) ConnectedPeers() []peer.ID {
	return h.host.Network().Peers()
}

// SignalingPeers returns the connected peers that announced the signaling
// protocol through identify. A peer is missing until identify completes.
func (h *Host) SignalingPeers() []peer.ID {
	var out []peer.ID
	for _, p := range h.host.Network().Peers() {
		ok, err := h.host.Peerstore().SupportsProtocols(p, SignalingProtocolID)
		if err == nil && len(ok) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// LibP2PHost returns the underlying host, which the swarm drives.
func (h *Host) LibP2PHost() host.Host {
	return h.host
}

// Close shuts down the host.
func (h *Host) Close() error {
	return h.host.Close()
}
