package sigberry

import "github.com/blockberries/sigberry/pkg/behaviour"

// Event is a signaling event delivered on Node.Events. Received payloads
// are passed through untouched; sigberry never parses SDP or candidates.
type Event = behaviour.Event

// EventKind identifies the kind of an Event.
type EventKind = behaviour.EventKind

// Event kinds.
const (
	// ReceivedSdpOffer carries an SDP offer from the peer.
	ReceivedSdpOffer = behaviour.ReceivedSdpOffer

	// ReceivedSdpAnswer carries an SDP answer from the peer.
	ReceivedSdpAnswer = behaviour.ReceivedSdpAnswer

	// ReceivedIceCandidate carries one ICE candidate from the peer.
	ReceivedIceCandidate = behaviour.ReceivedIceCandidate

	// SignalingError reports a terminal failure of one of the connection's
	// signaling substreams. Err holds an *Error.
	SignalingError = behaviour.SignalingError
)
