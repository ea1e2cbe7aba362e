package sigberry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/blockberries/sigberry/pkg/protocol"
)

// dumpTimeout bounds how long DumpState waits for connection snapshots.
const dumpTimeout = time.Second

// DebugState represents the complete state of a Node for debugging purposes.
type DebugState struct {
	// Node identity
	PeerID string `json:"peer_id"`

	// Listen addresses
	ListenAddrs []string `json:"listen_addrs"`

	// Signaling protocol
	Protocol string `json:"protocol"`
	Version  string `json:"version"`

	// Lifecycle
	Running bool `json:"running"`

	// Configuration
	Config DebugConfig `json:"config"`

	// Connections with a signaling handler
	Connections []DebugConnection `json:"connections,omitempty"`

	// Command backlog and event delivery
	CommandBacklog int    `json:"command_backlog"`
	EventsEmitted  uint64 `json:"events_emitted"`
	EventsDropped  uint64 `json:"events_dropped"`

	// Denied peers
	DeniedPeers int `json:"denied_peers"`

	// Timestamp when state was captured
	CapturedAt time.Time `json:"captured_at"`
}

// DebugConfig represents configuration summary for debugging.
type DebugConfig struct {
	MaxOutboundQueue   int    `json:"max_outbound_queue"`
	MaxFrameSize       int    `json:"max_frame_size"`
	MaxPayloadSize     int    `json:"max_payload_size"`
	NegotiationTimeout string `json:"negotiation_timeout"`
	IdleTimeout        string `json:"idle_timeout"`
	HighWatermark      int    `json:"high_watermark"`
	LowWatermark       int    `json:"low_watermark"`
}

// DebugConnection represents one connection's signaling state.
type DebugConnection struct {
	PeerID        string `json:"peer_id"`
	ConnID        string `json:"conn_id"`
	Direction     string `json:"direction"`
	Inbound       string `json:"inbound"`
	Outbound      string `json:"outbound"`
	KeepAlive     bool   `json:"keep_alive"`
	QueueDepth    int    `json:"queue_depth"`
	PendingEvents int    `json:"pending_events"`
	Errors        uint64 `json:"errors"`
}

// DumpState captures the current state of the node for debugging.
// This is useful for troubleshooting signaling issues.
func (n *Node) DumpState() *DebugState {
	state := &DebugState{
		PeerID:         n.PeerID().String(),
		Protocol:       string(protocol.SignalingProtocolID),
		Version:        CurrentVersion().String(),
		Running:        n.IsHealthy(),
		Config:         n.dumpConfig(),
		CommandBacklog: n.swarm.Backlog(),
		DeniedPeers:    n.denylist.Len(),
		CapturedAt:     time.Now(),
	}

	// Listen addresses
	for _, addr := range n.Addrs() {
		state.ListenAddrs = append(state.ListenAddrs, addr.String())
	}

	state.EventsEmitted, state.EventsDropped = n.swarm.EventStats()

	// Connections are only available while the driver runs.
	if n.checkRunning() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), dumpTimeout)
		defer cancel()
		snaps, err := n.swarm.Connections(ctx)
		if err != nil {
			n.config.Logger.Warn("failed to snapshot connections", "error", err)
		}
		for _, s := range snaps {
			state.Connections = append(state.Connections, DebugConnection{
				PeerID:        s.PeerID.String(),
				ConnID:        s.ConnID,
				Direction:     s.Direction,
				Inbound:       s.Inbound.String(),
				Outbound:      s.Outbound.String(),
				KeepAlive:     s.KeepAlive,
				QueueDepth:    s.OutboundQueueDepth,
				PendingEvents: s.PendingEvents,
				Errors:        s.Errors,
			})
		}
	}

	return state
}

// dumpConfig returns configuration debug info.
func (n *Node) dumpConfig() DebugConfig {
	return DebugConfig{
		MaxOutboundQueue:   n.config.MaxOutboundQueue,
		MaxFrameSize:       n.config.MaxFrameSize,
		MaxPayloadSize:     n.config.MaxPayloadSize,
		NegotiationTimeout: n.config.NegotiationTimeout.String(),
		IdleTimeout:        n.config.IdleTimeout.String(),
		HighWatermark:      n.config.CommandHighWatermark,
		LowWatermark:       n.config.CommandLowWatermark,
	}
}

// DumpStateJSON returns the node state as formatted JSON.
func (n *Node) DumpStateJSON() (string, error) {
	state := n.DumpState()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return string(data), nil
}

// DumpStateString returns a human-readable string representation of the node state.
func (n *Node) DumpStateString() string {
	state := n.DumpState()
	var sb strings.Builder

	sb.WriteString("=== Sigberry Node Debug State ===\n\n")

	// Identity
	sb.WriteString("IDENTITY:\n")
	sb.WriteString(fmt.Sprintf("  Peer ID:    %s\n", state.PeerID))
	sb.WriteString(fmt.Sprintf("  Protocol:   %s\n", state.Protocol))
	sb.WriteString(fmt.Sprintf("  Running:    %t\n", state.Running))
	sb.WriteString("\n")

	// Listen addresses
	sb.WriteString("LISTEN ADDRESSES:\n")
	if len(state.ListenAddrs) == 0 {
		sb.WriteString("  (none)\n")
	} else {
		for _, addr := range state.ListenAddrs {
			sb.WriteString(fmt.Sprintf("  - %s\n", addr))
		}
	}
	sb.WriteString("\n")

	// Config
	sb.WriteString("CONFIGURATION:\n")
	sb.WriteString(fmt.Sprintf("  Max Outbound Queue:  %d\n", state.Config.MaxOutboundQueue))
	sb.WriteString(fmt.Sprintf("  Max Frame Size:      %d bytes\n", state.Config.MaxFrameSize))
	sb.WriteString(fmt.Sprintf("  Max Payload Size:    %d bytes\n", state.Config.MaxPayloadSize))
	sb.WriteString(fmt.Sprintf("  Negotiation Timeout: %s\n", state.Config.NegotiationTimeout))
	sb.WriteString(fmt.Sprintf("  Idle Timeout:        %s\n", state.Config.IdleTimeout))
	sb.WriteString(fmt.Sprintf("  High Watermark:      %d\n", state.Config.HighWatermark))
	sb.WriteString(fmt.Sprintf("  Low Watermark:       %d\n", state.Config.LowWatermark))
	sb.WriteString("\n")

	// Connections
	sb.WriteString("CONNECTIONS:\n")
	if len(state.Connections) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, c := range state.Connections {
		keepAlive := ""
		if !c.KeepAlive {
			keepAlive = " (NO KEEP-ALIVE)"
		}
		sb.WriteString(fmt.Sprintf("  %s [%s %s] in=%s out=%s queued=%d%s\n",
			c.PeerID, c.ConnID, c.Direction, c.Inbound, c.Outbound, c.QueueDepth, keepAlive))
	}
	sb.WriteString("\n")

	// Delivery
	sb.WriteString("DELIVERY:\n")
	sb.WriteString(fmt.Sprintf("  Command backlog: %d\n", state.CommandBacklog))
	sb.WriteString(fmt.Sprintf("  Events emitted:  %d\n", state.EventsEmitted))
	sb.WriteString(fmt.Sprintf("  Events dropped:  %d\n", state.EventsDropped))
	sb.WriteString(fmt.Sprintf("  Denied peers:    %d\n", state.DeniedPeers))
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("Captured at: %s\n", state.CapturedAt.Format(time.RFC3339)))
	sb.WriteString("=================================\n")

	return sb.String()
}
