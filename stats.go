package sigberry

import (
	"context"
	"slices"
	"time"

	"github.com/blockberries/sigberry/pkg/swarm"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ConnectionStats contains statistics for one connection to a peer.
type ConnectionStats struct {
	// ConnID is the libp2p connection identifier.
	ConnID string

	// Direction is "inbound" or "outbound".
	Direction string

	// RemoteAddr is the peer's address on this connection.
	RemoteAddr string

	// InboundState and OutboundState are the states of the two signaling
	// substreams.
	InboundState  string
	OutboundState string

	// KeepAlive is false once outbound signaling has failed on this
	// connection.
	KeepAlive bool

	// OutboundQueueDepth is the number of messages waiting to be written.
	OutboundQueueDepth int

	// EstablishedAt is when the connection got its handler.
	EstablishedAt time.Time

	// LastActivity is when a message or stream last changed on this
	// connection.
	LastActivity time.Time

	MessagesSent     uint64
	MessagesReceived uint64
	MessagesDropped  uint64
	BytesSent        uint64
	BytesReceived    uint64
	Errors           uint64
}

// PeerStats contains statistics for a peer.
// All fields are safe to read without synchronization once returned
// from the API, as they are snapshot copies.
type PeerStats struct {
	// PeerID is the peer identifier.
	PeerID peer.ID

	// Connected indicates whether the peer has at least one connection
	// with a signaling handler.
	Connected bool

	// Connections lists the peer's connections. Outbound messages go to
	// the most recently established one.
	Connections []ConnectionStats

	// Totals across all connections.
	MessagesSent     uint64
	MessagesReceived uint64
	MessagesDropped  uint64
	BytesSent        uint64
	BytesReceived    uint64
	Errors           uint64

	// LastActivity is the latest activity on any connection.
	LastActivity time.Time
}

// PeerStats returns statistics for a peer. A peer without connections
// yields stats with Connected set to false.
func (n *Node) PeerStats(ctx context.Context, peerID peer.ID) (*PeerStats, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}

	snaps, err := n.swarm.PeerConnections(ctx, peerID)
	if err != nil {
		return nil, n.translate(err)
	}
	return newPeerStats(peerID, snaps), nil
}

// AllPeerStats returns statistics for every peer with a connection.
func (n *Node) AllPeerStats(ctx context.Context) (map[peer.ID]*PeerStats, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}

	snaps, err := n.swarm.Connections(ctx)
	if err != nil {
		return nil, n.translate(err)
	}

	byPeer := make(map[peer.ID][]swarm.ConnectionSnapshot)
	for _, s := range snaps {
		byPeer[s.PeerID] = append(byPeer[s.PeerID], s)
	}

	out := make(map[peer.ID]*PeerStats, len(byPeer))
	for p, s := range byPeer {
		out[p] = newPeerStats(p, s)
	}
	return out, nil
}

func newPeerStats(peerID peer.ID, snaps []swarm.ConnectionSnapshot) *PeerStats {
	stats := &PeerStats{
		PeerID:    peerID,
		Connected: len(snaps) > 0,
	}

	for _, s := range snaps {
		cs := ConnectionStats{
			ConnID:             s.ConnID,
			Direction:          s.Direction,
			InboundState:       s.Inbound.String(),
			OutboundState:      s.Outbound.String(),
			KeepAlive:          s.KeepAlive,
			OutboundQueueDepth: s.OutboundQueueDepth,
			EstablishedAt:      s.Established,
			LastActivity:       s.LastActivity,
			MessagesSent:       s.MessagesSent,
			MessagesReceived:   s.MessagesReceived,
			MessagesDropped:    s.MessagesDropped,
			BytesSent:          s.BytesSent,
			BytesReceived:      s.BytesReceived,
			Errors:             s.Errors,
		}
		if s.RemoteAddr != nil {
			cs.RemoteAddr = s.RemoteAddr.String()
		}
		stats.Connections = append(stats.Connections, cs)

		stats.MessagesSent += s.MessagesSent
		stats.MessagesReceived += s.MessagesReceived
		stats.MessagesDropped += s.MessagesDropped
		stats.BytesSent += s.BytesSent
		stats.BytesReceived += s.BytesReceived
		stats.Errors += s.Errors
		if s.LastActivity.After(stats.LastActivity) {
			stats.LastActivity = s.LastActivity
		}
	}

	// Oldest first, matching the routing order.
	slices.SortStableFunc(stats.Connections, func(a, b ConnectionStats) int {
		return a.EstablishedAt.Compare(b.EstablishedAt)
	})
	return stats
}
