package behaviour

import (
	"fmt"
	"time"

	"github.com/blockberries/sigberry/pkg/connection"
	"github.com/libp2p/go-libp2p/core/peer"
)

// EventKind identifies an application event.
type EventKind = connection.EventKind

// Application event kinds.
const (
	ReceivedSdpOffer     = connection.EventSdpOffer
	ReceivedSdpAnswer    = connection.EventSdpAnswer
	ReceivedIceCandidate = connection.EventIceCandidate
	SignalingError       = connection.EventSignalingError
)

// Event is an application-visible signaling event.
type Event struct {
	// Kind identifies the event.
	Kind EventKind

	// PeerID is the remote peer the event came from.
	PeerID peer.ID

	// ConnID identifies the connection the event arrived on.
	ConnID string

	// Payload holds the SDP offer, SDP answer or ICE candidate.
	Payload string

	// Err is set for SignalingError.
	Err error

	// Timestamp is when the event was produced.
	Timestamp time.Time
}

// IsError returns true if this is a SignalingError event.
func (e Event) IsError() bool {
	return e.Kind == SignalingError
}

// String returns a short description that never includes the payload.
func (e Event) String() string {
	if e.IsError() {
		return fmt.Sprintf("%s{peer=%s, err=%v}", e.Kind, e.PeerID, e.Err)
	}
	return fmt.Sprintf("%s{peer=%s, bytes=%d}", e.Kind, e.PeerID, len(e.Payload))
}

func fromHandlerEvent(p peer.ID, connID string, evt connection.Event) Event {
	return Event{
		Kind:      evt.Kind,
		PeerID:    p,
		ConnID:    connID,
		Payload:   evt.Payload,
		Err:       evt.Err,
		Timestamp: evt.Timestamp,
	}
}
