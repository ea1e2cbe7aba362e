package connection

import (
	"fmt"
	"time"

	"github.com/blockberries/sigberry/pkg/substream"
	"github.com/multiformats/go-multiaddr"
)

// ConnectionEvent is a transport notification delivered to a Handler by the
// driver that owns the connection.
type ConnectionEvent interface {
	connectionEvent()
}

// FullyNegotiatedInbound reports that the remote peer opened a signaling
// substream and protocol negotiation succeeded.
type FullyNegotiatedInbound struct {
	Stream substream.Stream
}

// FullyNegotiatedOutbound reports that a substream requested through
// SubstreamRequester was negotiated.
type FullyNegotiatedOutbound struct {
	Stream substream.Stream
}

// DialUpgradeError reports that a requested outbound substream could not be
// opened or negotiated.
type DialUpgradeError struct {
	Err error
}

// ListenUpgradeError reports that negotiation of an inbound substream
// failed.
type ListenUpgradeError struct {
	Err error
}

// AddressChange reports that the remote address of the connection changed.
type AddressChange struct {
	Addr multiaddr.Multiaddr
}

func (FullyNegotiatedInbound) connectionEvent()  {}
func (FullyNegotiatedOutbound) connectionEvent() {}
func (DialUpgradeError) connectionEvent()        {}
func (ListenUpgradeError) connectionEvent()      {}
func (AddressChange) connectionEvent()           {}

// EventKind identifies what a handler Event carries.
type EventKind int

const (
	// EventSdpOffer carries an SDP offer received from the peer.
	EventSdpOffer EventKind = iota

	// EventSdpAnswer carries an SDP answer received from the peer.
	EventSdpAnswer

	// EventIceCandidate carries an ICE candidate received from the peer.
	EventIceCandidate

	// EventSignalingError reports a terminal substream failure.
	EventSignalingError
)

// String returns a human-readable name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventSdpOffer:
		return "ReceivedSdpOffer"
	case EventSdpAnswer:
		return "ReceivedSdpAnswer"
	case EventIceCandidate:
		return "ReceivedIceCandidate"
	case EventSignalingError:
		return "SignalingError"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// Event is produced by Handler.Poll.
type Event struct {
	// Kind identifies the event.
	Kind EventKind

	// Payload holds the SDP or candidate string. Empty for errors.
	Payload string

	// Err is set for EventSignalingError.
	Err error

	// Direction is the substream the event originated on.
	Direction substream.Direction

	// Timestamp is when the handler produced the event.
	Timestamp time.Time
}

// String returns a short description that never includes the payload.
func (e Event) String() string {
	if e.Kind == EventSignalingError {
		return fmt.Sprintf("%s(%s: %v)", e.Kind, e.Direction, e.Err)
	}
	return fmt.Sprintf("%s(%d bytes)", e.Kind, len(e.Payload))
}
