// Package protocol provides the signaling protocol identifier, libp2p host
// construction and connection gating.
package protocol

import "github.com/libp2p/go-libp2p/core/protocol"

// SignalingProtocolID is the protocol identifier negotiated for every
// signaling substream.
const SignalingProtocolID protocol.ID = "/webrtc-signaling/0.0.1"

// Protocols returns the protocol identifiers a signaling node supports.
func Protocols() []protocol.ID {
	return []protocol.ID{SignalingProtocolID}
}
