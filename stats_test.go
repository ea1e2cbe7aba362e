package sigberry

import (
	"testing"
	"time"

	"github.com/blockberries/sigberry/pkg/connection"
	"github.com/blockberries/sigberry/pkg/substream"
	"github.com/blockberries/sigberry/pkg/swarm"
	"github.com/libp2p/go-libp2p/core/peer"
)

func TestNewPeerStats_Empty(t *testing.T) {
	peerID := peer.ID("test-peer")

	stats := newPeerStats(peerID, nil)

	if stats.PeerID != peerID {
		t.Errorf("PeerID = %v, want %v", stats.PeerID, peerID)
	}
	if stats.Connected {
		t.Error("peer without connections should not be Connected")
	}
	if len(stats.Connections) != 0 {
		t.Errorf("Connections = %d, want 0", len(stats.Connections))
	}
}

func TestNewPeerStats_AggregatesConnections(t *testing.T) {
	peerID := peer.ID("test-peer")
	base := time.Now()

	newer := swarm.ConnectionSnapshot{
		Snapshot: connection.Snapshot{
			PeerID:             peerID,
			ConnID:             "conn-2",
			Inbound:            substream.StateOpen,
			Outbound:           substream.StateErrored,
			KeepAlive:          false,
			OutboundQueueDepth: 1,
			Established:        base.Add(time.Second),
			LastActivity:       base.Add(5 * time.Second),
			MessagesSent:       1,
			BytesSent:          10,
			Errors:             1,
		},
		Direction: "inbound",
	}
	older := swarm.ConnectionSnapshot{
		Snapshot: connection.Snapshot{
			PeerID:           peerID,
			ConnID:           "conn-1",
			Inbound:          substream.StateOpen,
			Outbound:         substream.StateOpen,
			KeepAlive:        true,
			Established:      base,
			LastActivity:     base.Add(2 * time.Second),
			MessagesSent:     3,
			MessagesReceived: 4,
			BytesSent:        300,
			BytesReceived:    400,
		},
		Direction: "outbound",
	}

	stats := newPeerStats(peerID, []swarm.ConnectionSnapshot{newer, older})

	if !stats.Connected {
		t.Error("Connected should be true")
	}
	if len(stats.Connections) != 2 {
		t.Fatalf("Connections = %d, want 2", len(stats.Connections))
	}

	// Oldest first.
	if stats.Connections[0].ConnID != "conn-1" || stats.Connections[1].ConnID != "conn-2" {
		t.Errorf("connection order = %s, %s; want conn-1, conn-2",
			stats.Connections[0].ConnID, stats.Connections[1].ConnID)
	}

	c := stats.Connections[1]
	if c.Direction != "inbound" {
		t.Errorf("Direction = %q, want inbound", c.Direction)
	}
	if c.InboundState != "Open" || c.OutboundState != "Errored" {
		t.Errorf("states = %s/%s, want Open/Errored", c.InboundState, c.OutboundState)
	}
	if c.KeepAlive {
		t.Error("KeepAlive should be false")
	}
	if c.OutboundQueueDepth != 1 {
		t.Errorf("OutboundQueueDepth = %d, want 1", c.OutboundQueueDepth)
	}
	if c.RemoteAddr != "" {
		t.Errorf("RemoteAddr = %q, want empty", c.RemoteAddr)
	}

	if stats.MessagesSent != 4 {
		t.Errorf("MessagesSent = %d, want 4", stats.MessagesSent)
	}
	if stats.MessagesReceived != 4 {
		t.Errorf("MessagesReceived = %d, want 4", stats.MessagesReceived)
	}
	if stats.BytesSent != 310 {
		t.Errorf("BytesSent = %d, want 310", stats.BytesSent)
	}
	if stats.BytesReceived != 400 {
		t.Errorf("BytesReceived = %d, want 400", stats.BytesReceived)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if !stats.LastActivity.Equal(base.Add(5 * time.Second)) {
		t.Errorf("LastActivity = %v, want %v", stats.LastActivity, base.Add(5*time.Second))
	}
}
